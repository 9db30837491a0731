package ptracer

import "golang.org/x/sys/unix"

// syscall + int3：注入的调用完成后立刻陷入，控制权交还 tracer。
// 用断点而不是 PTRACE_SYSCALL 单步，注入点只需一次停止即可收取返回值。
var syscallInstruction = [...]byte{0x0f, 0x05, 0xcc}

// 内核把错误作为负值从系统调用返回，按无符号比较判定
const maxErrno = ^uint64(0) - 4095

// syscallRegs 在 orig 之上构造一次系统调用的寄存器上下文，
// 程序计数器指向注入点 ip（x86_64 调用约定：rdi rsi rdx r10 r8 r9）
func syscallRegs(orig *unix.PtraceRegs, ip uint64, nr uint64, args [6]uint64) unix.PtraceRegs {
	regs := *orig
	regs.SetPC(ip)
	regs.Rax = nr
	regs.Orig_rax = nr
	regs.Rdi = args[0]
	regs.Rsi = args[1]
	regs.Rdx = args[2]
	regs.R10 = args[3]
	regs.R8 = args[4]
	regs.R9 = args[5]
	return regs
}

// syscallResult 从停止后的寄存器中取出系统调用返回值
func syscallResult(regs *unix.PtraceRegs) uint64 {
	return regs.Rax
}
