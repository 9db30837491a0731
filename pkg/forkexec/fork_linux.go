package forkexec

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Start 孵化一个观测目标并等它在 SIGSTOP 上停住。
//
// 步骤：clone 出子进程；子进程装好描述符表、rlimit、禁闭过滤器，
// 声明 PTRACE_TRACEME 后自陷停住；父进程通过 socketpair 收取
// 子进程侧的失败报告，再用 wait4 确认初始停止，
// 最后设置 PTRACE_O_EXITKILL，保证守护进程死亡时目标被连带击杀。
//
// 调用线程成为目标的 tracer：调用前必须锁定 OS 线程，
// 且后续所有 ptrace 操作都要发自同一线程。
func (r *Runner) Start() (int, error) {
	files := prepareFiles(r.Files)

	// p[0] 归父进程，p[1] 归子进程，用于孵化期的错误同步
	p, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("forkexec: socketpair: %w", err)
	}

	// fork 守卫在 forkAndStopInChild 内部武装，在这里解除；
	// 两者之间不能插入任何可能增长栈的调用
	pid, err1 := forkAndStopInChild(r, files, p)
	afterFork()
	syscall.ForkLock.Unlock()

	return syncWithChild(p, int(pid), err1)
}

// syncWithChild 收取子进程的孵化报告并等待初始停止
func syncWithChild(p [2]int, pid int, err1 syscall.Errno) (int, error) {
	var childErr ChildError
	unix.Close(p[1])

	if err1 != 0 {
		unix.Close(p[0])
		childErr.Location = LocClone
		childErr.Err = err1
		return 0, childErr
	}

	n, err := readChildErr(p[0], &childErr)
	unix.Close(p[0])
	if err != nil || n != int(unsafe.Sizeof(childErr)) || childErr.Err != 0 {
		collectFailedChild(pid)
		if childErr.Err == 0 {
			childErr.Location = LocSyncWrite
			childErr.Err = syscall.EPIPE
		}
		return 0, childErr
	}

	// 子进程报告成功后必然走向自陷；等它真的停住
	var wstatus unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &wstatus, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			collectFailedChild(pid)
			return 0, fmt.Errorf("forkexec: wait4: %w", err)
		}
		break
	}
	if !wstatus.Stopped() || wstatus.StopSignal() != unix.SIGSTOP {
		collectFailedChild(pid)
		return 0, fmt.Errorf("forkexec: target died during setup: %v", wstatus)
	}

	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_EXITKILL); err != nil {
		collectFailedChild(pid)
		return 0, fmt.Errorf("forkexec: set ptrace options: %w", err)
	}
	return pid, nil
}

// readChildErr 把子进程写回的 ChildError 原样读入结构体
func readChildErr(fd int, childErr *ChildError) (n int, err error) {
	size := unsafe.Sizeof(*childErr)
	buf := (*[unsafe.Sizeof(*childErr)]byte)(unsafe.Pointer(childErr))[:size]
	for {
		n, err = syscall.Read(fd, buf)
		if err != syscall.EINTR {
			break
		}
	}
	return
}

// collectFailedChild 击杀并回收孵化失败的子进程，避免留下僵尸
func collectFailedChild(pid int) {
	if pid <= 0 {
		return
	}
	unix.Kill(pid, unix.SIGKILL)
	var wstatus unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &wstatus, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || wstatus.Exited() || wstatus.Signaled() {
			return
		}
		// 停住状态收不走，先恢复再等
		unix.PtraceCont(pid, int(unix.SIGKILL))
	}
}
