// Package wire 定义了控制通道上的固定二进制协议。
// 协议只有两条命令：PREPARE 交换一个整数句柄，OBSERVE 携带一次完整的
// 观测请求（映射编辑批次 + 寄存器快照）并返回观测结果。
// 记录的字段顺序和宽度跨越特权边界时必须逐位保持，因此编解码
// 全部使用显式的小端序布局，不依赖 Go 结构体的内存排布。
package wire

import (
	"errors"
	"fmt"
)

// 命令编号沿用 0x33 作为魔数，低 8 位为序号
const (
	commandMagic = 0x33

	// CmdPrepare 交换一个整数句柄，获得一个可观测的目标进程
	CmdPrepare Command = commandMagic<<8 | 0
	// CmdObserve 对一个已准备好的目标执行一次完整的观测流水线
	CmdObserve Command = commandMagic<<8 | 1
)

// MaxMappingEdits 是单次 OBSERVE 中 unmap/map 编辑数量的上限。
// 这是一个有意设置的容量约束：超出它是协议错误，而不是内部扩容。
const MaxMappingEdits = 32

// 映射保护位，与目标内核的 PROT_* 低三位一致
const (
	ProtRead  uint8 = 1 << 0
	ProtWrite uint8 = 1 << 1
	ProtExec  uint8 = 1 << 2
)

// Command 是控制通道上的命令编号
type Command uint32

func (c Command) String() string {
	switch c {
	case CmdPrepare:
		return "PREPARE"
	case CmdObserve:
		return "OBSERVE"
	default:
		return fmt.Sprintf("Command(%#x)", uint32(c))
	}
}

// 边界层错误：在任何流水线阶段运行之前被拒绝，且互相可区分
var (
	// ErrUnknownCommand 表示命令编号不被支持
	ErrUnknownCommand = errors.New("wire: unsupported command")
	// ErrTooManyEdits 表示 unmap/map 数量超过 MaxMappingEdits
	ErrTooManyEdits = errors.New("wire: mapping edit count out of range")
	// ErrShortRecord 表示记录字节数与固定布局不符
	ErrShortRecord = errors.New("wire: truncated record")
)
