package forkexec

// go:linkname 需要 unsafe
import _ "unsafe"

// beforeFork 锁住运行时并保存信号掩码，fork 前必须调用
//
//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

// afterFork 在父进程侧恢复运行时状态
//
//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

// afterForkInChild 在子进程侧重建最小运行时状态；
// 此后子进程只允许 RawSyscall，不得触碰分配器与调度器
//
//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()
