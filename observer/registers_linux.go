package observer

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zqzqsb/observer/ptracer"
	"github.com/zqzqsb/observer/wire"
)

// 快照即 user_regs_struct 的原始字节，两者大小必须一致
var _ = [1]struct{}{}[wire.RegisterSize-int(unsafe.Sizeof(unix.PtraceRegs{}))]

// setRegisters 把调用方提供的快照整体写入目标的保存上下文。
// 每个寄存器槽位都被覆盖，不做部分合并。
func setRegisters(pid int, snap *wire.RegisterSnapshot) error {
	var regs unix.PtraceRegs
	copy((*[wire.RegisterSize]byte)(unsafe.Pointer(&regs))[:], snap[:])
	return ptracer.SetRegs(pid, &regs)
}

// getRegisters 读取目标当前的寄存器文件为快照，
// 供调用方在已有上下文之上做增量修改
func getRegisters(pid int, snap *wire.RegisterSnapshot) error {
	var regs unix.PtraceRegs
	if err := ptracer.GetRegs(pid, &regs); err != nil {
		return err
	}
	copy(snap[:], (*[wire.RegisterSize]byte)(unsafe.Pointer(&regs))[:])
	return nil
}
