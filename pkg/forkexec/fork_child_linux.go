package forkexec

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// forkAndStopInChild 执行 clone，并在子进程侧完成目标的全部初始化。
// 函数自身获取 ForkLock 并武装 fork 守卫；父进程侧直接返回 clone
// 结果，守卫由调用方解除。子进程侧永不返回——成功则停在自陷停桩上，
// 失败则把 ChildError 写回同步管道后退出。
//
// beforeFork 之后不能再有任何可能增长栈的调用：
// 子进程只允许 RawSyscall，错误出口走 nosplit 的 childExit 系列。
//
//go:norace
func forkAndStopInChild(r *Runner, files []int, p [2]int) (r1 uintptr, err1 syscall.Errno) {
	var (
		childErr ChildError
		pipe     uintptr
		syncFd   uintptr
		self     uintptr
		i        int
	)

	nextfd := nextAvailFd(files, p)

	var filter *syscall.SockFprog
	if len(r.Seccomp) > 0 {
		filter = r.Seccomp.SockFprog()
	}

	// fork 前锁住描述符表；从 beforeFork 起不得分配内存、
	// 不得触碰调度器
	syscall.ForkLock.Lock()
	beforeFork()

	r1, _, err1 = syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if err1 != 0 || r1 != 0 {
		// 父进程侧：守卫由 Start 解除
		return
	}

	// 以下全部运行在子进程
	afterForkInChild()

	pipe = uintptr(p[1])
	syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(p[0]), 0, 0)

	// 同步描述符先挪到重排区之上，避免被表重排覆盖
	syncFd = uintptr(nextfd)
	_, _, err1 = syscall.RawSyscall(unix.SYS_DUP3, pipe, syncFd, syscall.O_CLOEXEC)
	if err1 != 0 {
		childExit(pipe, LocCloseWrite, err1)
	}
	syscall.RawSyscall(syscall.SYS_CLOSE, pipe, 0, 0)

	// 描述符表重排：先整体搬高，再落回目标编号并清除 CLOEXEC。
	// 两遍走法对任意重叠都安全；高位临时项由后面的整段关闭回收。
	for i = 0; i < len(files); i++ {
		_, _, err1 = syscall.RawSyscall(unix.SYS_DUP3, uintptr(files[i]), uintptr(nextfd+1+i), syscall.O_CLOEXEC)
		if err1 != 0 {
			childExitIndex(syncFd, LocDup3, i+1, err1)
		}
	}
	for i = 0; i < len(files); i++ {
		_, _, err1 = syscall.RawSyscall(unix.SYS_DUP3, uintptr(nextfd+1+i), uintptr(i), 0)
		if err1 != 0 {
			childExitIndex(syncFd, LocDup3, i+1, err1)
		}
	}

	// 目标从不 execve，CLOEXEC 永远不会生效：表之外继承自守护进程
	// 的描述符（监听与连接 socket、其他目标的资源）必须在这里显式
	// 关掉，只给同步描述符留到报告写完为止
	if uintptr(len(files)) < syncFd {
		_, _, err1 = syscall.RawSyscall(unix.SYS_CLOSE_RANGE, uintptr(len(files)), syncFd-1, 0)
		if err1 != 0 {
			childExit(syncFd, LocCloseRange, err1)
		}
	}
	_, _, err1 = syscall.RawSyscall(unix.SYS_CLOSE_RANGE, syncFd+1, uintptr(^uint32(0)), 0)
	if err1 != 0 {
		childExit(syncFd, LocCloseRange, err1)
	}

	// 资源上限
	for i = 0; i < len(r.RLimits); i++ {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_SETRLIMIT, uintptr(r.RLimits[i].Res),
			uintptr(unsafe.Pointer(&r.RLimits[i].Rlim)), 0)
		if err1 != 0 {
			childExitIndex(syncFd, LocSetRlimit, i+1, err1)
		}
	}

	// 非特权进程安装 seccomp 的前提
	_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0, 0)
	if err1 != 0 {
		childExit(syncFd, LocSetNoNewPrivs, err1)
	}

	// 降权到指定身份
	if r.Credential != nil {
		if !r.Credential.NoSetGroups {
			var groups unsafe.Pointer
			if len(r.Credential.Groups) > 0 {
				groups = unsafe.Pointer(&r.Credential.Groups[0])
			}
			_, _, err1 = syscall.RawSyscall(syscall.SYS_SETGROUPS,
				uintptr(len(r.Credential.Groups)), uintptr(groups), 0)
			if err1 != 0 {
				childExit(syncFd, LocSetGroups, err1)
			}
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_SETGID, uintptr(r.Credential.Gid), 0, 0)
		if err1 != 0 {
			childExit(syncFd, LocSetGid, err1)
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_SETUID, uintptr(r.Credential.Uid), 0, 0)
		if err1 != 0 {
			childExit(syncFd, LocSetUid, err1)
		}
	}

	_, _, err1 = syscall.RawSyscall(syscall.SYS_PTRACE, uintptr(syscall.PTRACE_TRACEME), 0, 0)
	if err1 != 0 {
		childExit(syncFd, LocPtraceMe, err1)
	}

	// 禁闭过滤器在同步写之前安装，安装失败仍可报告；
	// 放行列表必须覆盖此后用到的 write/close/getpid/kill
	if filter != nil {
		_, _, err1 = syscall.RawSyscall(unix.SYS_SECCOMP, SECCOMP_SET_MODE_FILTER,
			SECCOMP_FILTER_FLAG_TSYNC, uintptr(unsafe.Pointer(filter)))
		if err1 != 0 {
			childExit(syncFd, LocSeccomp, err1)
		}
	}

	// 报告孵化成功
	_, _, err1 = syscall.RawSyscall(syscall.SYS_WRITE, syncFd,
		uintptr(unsafe.Pointer(&childErr)), unsafe.Sizeof(childErr))
	if err1 != 0 {
		childExit(syncFd, LocSyncWrite, err1)
	}
	syscall.RawSyscall(syscall.SYS_CLOSE, syncFd, 0, 0)

	// 自陷停桩：SIGSTOP 宣告就绪；此后若被原样恢复，
	// 立刻再陷一次，目标自身的代码永远走不远
	self, _, _ = syscall.RawSyscall(syscall.SYS_GETPID, 0, 0, 0)
	syscall.RawSyscall(syscall.SYS_KILL, self, uintptr(syscall.SIGSTOP), 0)
	for {
		syscall.RawSyscall(syscall.SYS_KILL, self, uintptr(syscall.SIGTRAP), 0)
	}
}

// childExit 把失败报告写回同步描述符并退出，只在子进程侧调用
//
//go:nosplit
func childExit(fd uintptr, loc ErrorLocation, err syscall.Errno) {
	childErr := ChildError{
		Err:      err,
		Location: loc,
	}
	syscall.RawSyscall(syscall.SYS_WRITE, fd, uintptr(unsafe.Pointer(&childErr)), unsafe.Sizeof(childErr))
	for {
		syscall.RawSyscall(syscall.SYS_EXIT_GROUP, 1, 0, 0)
	}
}

//go:nosplit
func childExitIndex(fd uintptr, loc ErrorLocation, idx int, err syscall.Errno) {
	childErr := ChildError{
		Err:      err,
		Location: loc,
		Index:    idx,
	}
	syscall.RawSyscall(syscall.SYS_WRITE, fd, uintptr(unsafe.Pointer(&childErr)), unsafe.Sizeof(childErr))
	for {
		syscall.RawSyscall(syscall.SYS_EXIT_GROUP, 1, 0, 0)
	}
}
