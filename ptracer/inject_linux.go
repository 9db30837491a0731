package ptracer

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// InjectSyscall 在已停止的目标中执行一次系统调用并返回其结果。
//
// 做法与把代码搬进目标等价：在当前程序计数器处暂存原有指令字节，
// 写入 syscall+断点，装入调用号与参数，恢复执行到断点，
// 收取返回值，最后还原指令字节与寄存器文件。
// 目标对调用一无所知：除调用本身的效果外，上下文逐位复原。
//
// 内核返回的错误以 unix.Errno 形式给出；目标在注入期间退出
// 返回 ErrExited。
func InjectSyscall(pid int, nr uint64, args [6]uint64) (uint64, error) {
	var orig unix.PtraceRegs
	if err := GetRegs(pid, &orig); err != nil {
		return 0, exitedOr(err)
	}
	ip := uintptr(orig.PC())

	saved := make([]byte, len(syscallInstruction))
	if err := PeekText(pid, ip, saved); err != nil {
		return 0, err
	}
	if err := PokeText(pid, ip, syscallInstruction[:]); err != nil {
		return 0, err
	}

	regs := syscallRegs(&orig, orig.PC(), nr, args)
	if err := SetRegs(pid, &regs); err != nil {
		return 0, exitedOr(err)
	}

	ret, runErr := runToBreakpoint(pid)

	// 即便调用失败也要尽力还原现场；还原失败优先报告
	if err := PokeText(pid, ip, saved); err != nil && runErr == nil {
		runErr = err
	}
	if err := SetRegs(pid, &orig); err != nil && runErr == nil {
		runErr = exitedOr(err)
	}
	if runErr != nil {
		return 0, runErr
	}

	if ret > maxErrno {
		return 0, unix.Errno(-int64(ret))
	}
	return ret, nil
}

// runToBreakpoint 恢复目标执行直到注入的断点，返回调用结果寄存器
func runToBreakpoint(pid int) (uint64, error) {
	if err := Cont(pid, 0); err != nil {
		return 0, exitedOr(err)
	}

	var wstatus unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &wstatus, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("ptracer: wait4: %w", err)
		}
		break
	}

	switch {
	case wstatus.Exited(), wstatus.Signaled():
		return 0, ErrExited
	case wstatus.Stopped() && wstatus.StopSignal() == unix.SIGTRAP:
		var regs unix.PtraceRegs
		if err := GetRegs(pid, &regs); err != nil {
			return 0, exitedOr(err)
		}
		return syscallResult(&regs), nil
	default:
		return 0, fmt.Errorf("ptracer: unexpected stop during injection: %v", wstatus.StopSignal())
	}
}

// exitedOr 把 ESRCH 归一为 ErrExited，其余错误原样返回
func exitedOr(err error) error {
	if errors.Is(err, unix.ESRCH) {
		return ErrExited
	}
	return err
}
