package ptracer

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// siginfo 以固定 128 字节与内核交换，布局错位会静默破坏停止原因解析
func TestSiginfoSize(t *testing.T) {
	if got := unsafe.Sizeof(Siginfo{}); got != siginfoSize {
		t.Fatalf("Siginfo size = %d, want %d", got, siginfoSize)
	}
}

func TestSiginfoAddrOffset(t *testing.T) {
	var si Siginfo
	base := uintptr(unsafe.Pointer(&si))
	if off := uintptr(unsafe.Pointer(&si.Addr)) - base; off != 16 {
		t.Fatalf("Addr offset = %d, want 16", off)
	}
}

func TestSyscallRegs(t *testing.T) {
	var orig unix.PtraceRegs
	orig.SetPC(0x401000)
	orig.Rbx = 7 // 非参数寄存器必须原样保留

	args := [6]uint64{1, 2, 3, 4, 5, 6}
	regs := syscallRegs(&orig, 0x401000, unix.SYS_MMAP, args)

	if regs.Rax != unix.SYS_MMAP || regs.Orig_rax != unix.SYS_MMAP {
		t.Errorf("syscall number: rax=%d orig_rax=%d", regs.Rax, regs.Orig_rax)
	}
	if regs.Rdi != 1 || regs.Rsi != 2 || regs.Rdx != 3 ||
		regs.R10 != 4 || regs.R8 != 5 || regs.R9 != 6 {
		t.Errorf("argument registers mismatch: %+v", regs)
	}
	if regs.PC() != 0x401000 {
		t.Errorf("PC = %#x, want 0x401000", regs.PC())
	}
	if regs.Rbx != 7 {
		t.Errorf("Rbx = %d, clobbered", regs.Rbx)
	}
	if orig.Rax != 0 {
		t.Error("original register set must not be modified")
	}
}

func TestErrnoBoundary(t *testing.T) {
	// -4095..-1 是错误区间，mmap 的高地址返回值不能被误判
	if ret := ^uint64(0) - 11 + 1; ret <= maxErrno { // -EAGAIN
		t.Fatalf("-EAGAIN (%#x) must be above maxErrno (%#x)", ret, maxErrno)
	}
	if ret := uint64(0x7ffff7a00000); ret > maxErrno {
		t.Fatalf("valid mapping address misread as errno")
	}
}
