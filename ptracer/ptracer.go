//go:build linux
// +build linux

// Package ptracer 提供对已停止目标进程的底层 ptrace 操作：
// 寄存器文件的整体读写、停止原因（siginfo）获取、目标内存读写，
// 以及向目标地址空间注入单个系统调用并收取其返回值。
// 所有操作都要求目标处于 ptrace-stop 状态，且调用线程是其 tracer。
package ptracer

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrExited 表示目标进程在操作期间已经退出
var ErrExited = errors.New("ptracer: target exited")

const ntPrStatus = 1

// ptrace 是原始 ptrace 系统调用的薄封装，
// 用于 x/sys/unix 没有提供包装的请求
func ptrace(request, pid int, addr, data uintptr) error {
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE,
		uintptr(request), uintptr(pid), addr, data, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func getIovec(base *byte, l int) unix.Iovec {
	return unix.Iovec{Base: base, Len: uint64(l)}
}

// GetRegs 读取目标的完整用户寄存器文件
func GetRegs(pid int, regs *unix.PtraceRegs) error {
	iov := getIovec((*byte)(unsafe.Pointer(regs)), int(unsafe.Sizeof(*regs)))
	err := ptrace(syscall.PTRACE_GETREGSET, pid, ntPrStatus, uintptr(unsafe.Pointer(&iov)))
	if err != nil {
		return fmt.Errorf("ptracer: getregset: %w", err)
	}
	return nil
}

// SetRegs 用 regs 整体覆盖目标的保存寄存器文件，不做部分合并
func SetRegs(pid int, regs *unix.PtraceRegs) error {
	iov := getIovec((*byte)(unsafe.Pointer(regs)), int(unsafe.Sizeof(*regs)))
	err := ptrace(syscall.PTRACE_SETREGSET, pid, ntPrStatus, uintptr(unsafe.Pointer(&iov)))
	if err != nil {
		return fmt.Errorf("ptracer: setregset: %w", err)
	}
	return nil
}

// PeekText 从目标内存读取 len(buff) 字节
func PeekText(pid int, addr uintptr, buff []byte) error {
	_, err := syscall.PtracePeekText(pid, addr, buff)
	if err != nil {
		return fmt.Errorf("ptracer: peektext %#x: %w", addr, err)
	}
	return nil
}

// PokeText 向目标内存写入 buff，目标页无需可写（走 ptrace 写通道）
func PokeText(pid int, addr uintptr, buff []byte) error {
	_, err := syscall.PtracePokeText(pid, addr, buff)
	if err != nil {
		return fmt.Errorf("ptracer: poketext %#x: %w", addr, err)
	}
	return nil
}

// Cont 以信号 sig 恢复目标执行（sig 为 0 表示不注入信号）
func Cont(pid int, sig int) error {
	if err := unix.PtraceCont(pid, sig); err != nil {
		return fmt.Errorf("ptracer: cont: %w", err)
	}
	return nil
}

// Kill 向目标发送 SIGKILL
func Kill(pid int) {
	unix.Kill(pid, unix.SIGKILL)
}
