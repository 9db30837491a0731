package forkexec

// syscall 包中缺少的 seccomp 常量
const (
	// SECCOMP_SET_MODE_FILTER 以 BPF 过滤器模式安装 seccomp
	SECCOMP_SET_MODE_FILTER = 1

	// SECCOMP_FILTER_FLAG_TSYNC 把过滤器同步到所有线程；
	// 目标 fork 自 Go 运行时，停住后只剩单线程，但安装点
	// 在停住之前，同步标志保证没有窗口
	SECCOMP_FILTER_FLAG_TSYNC = 1
)
