package seccomp

import "syscall"

// Filter 是 BPF 格式的 seccomp 过滤器，每个 SockFilter 是一条指令
type Filter []syscall.SockFilter

// SockFprog 把 Filter 转换为 prctl(PR_SET_SECCOMP, SECCOMP_MODE_FILTER)
// 所需的内核格式。Filter 指针必须指向连续内存，因此取切片底层数组。
func (f Filter) SockFprog() *syscall.SockFprog {
	b := []syscall.SockFilter(f)
	return &syscall.SockFprog{
		Len:    uint16(len(b)),
		Filter: &b[0],
	}
}
