package ptracer

import (
	"fmt"
	"syscall"
	"unsafe"
)

// siginfoSize 是内核 siginfo_t 的固定大小
const siginfoSize = 128

// Siginfo 是内核 siginfo_t 的前缀布局（x86_64 顺序）。
// Addr 复用了 union 的起始槽位，仅当 Signo 是带地址的
// 内存访问信号（SIGSEGV/SIGBUS/SIGTRAP 硬件断点等）时有意义。
type Siginfo struct {
	Signo int32
	Errno int32
	Code  int32
	_     int32
	Addr  uint64
	_     [siginfoSize - 24]byte
}

// GetSiginfo 获取使目标停止的信号的详细信息。
// 目标必须处于 signal-delivery-stop，否则内核返回 EINVAL。
func GetSiginfo(pid int) (*Siginfo, error) {
	var si Siginfo
	err := ptrace(syscall.PTRACE_GETSIGINFO, pid, 0, uintptr(unsafe.Pointer(&si)))
	if err != nil {
		return nil, fmt.Errorf("ptracer: getsiginfo: %w", err)
	}
	return &si, nil
}
