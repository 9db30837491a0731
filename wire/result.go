package wire

import (
	"encoding/binary"
	"fmt"
)

// ResultSize 是 ObserveResult 的字节数
const ResultSize = 4 + 4 + 4 + 4 + 8

// Status 编码一次观测如何终结。
// Status 单独决定结果中其余哪些字段有语义：
// 设置失败只填 Errno，执行停止只填信号字段。
type Status int32

const (
	// StatusInvalid 表示结果未被写入
	StatusInvalid Status = iota
	// StatusStopped 表示目标因信号停住（预期的观测结果）
	StatusStopped
	// StatusExited 表示目标在观测期间正常退出，Code 为退出码
	StatusExited
	// StatusSignaled 表示目标被信号终止，Signo 为该信号
	StatusSignaled
	// StatusSetupFailure 表示映射或寄存器阶段失败，Errno 为失败原因；
	// 目标的地址空间可能已被部分修改，调用方复用前必须重新校验
	StatusSetupFailure
)

var statusString = []string{
	"invalid",
	"stopped",
	"exited",
	"signaled",
	"setup failure",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusString) {
		return statusString[s]
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// ObserveResult 是一次观测的定形输出记录。
// FaultAddr 仅在停止原因是带地址的内存访问错误时有意义，否则为零。
type ObserveResult struct {
	Status    Status
	Errno     int32
	Code      int32
	Signo     int32
	FaultAddr uint64
}

// MarshalBinary 编码为固定布局：
//
//	status:int32 errno:int32 code:int32 signo:int32 faultAddr:uint64
func (r *ObserveResult) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ResultSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(r.Status))
	le.PutUint32(buf[4:], uint32(r.Errno))
	le.PutUint32(buf[8:], uint32(r.Code))
	le.PutUint32(buf[12:], uint32(r.Signo))
	le.PutUint64(buf[16:], r.FaultAddr)
	return buf, nil
}

// UnmarshalBinary 按 MarshalBinary 的布局解码
func (r *ObserveResult) UnmarshalBinary(buf []byte) error {
	if len(buf) < ResultSize {
		return fmt.Errorf("%w: result %d bytes, want %d", ErrShortRecord, len(buf), ResultSize)
	}
	le := binary.LittleEndian
	r.Status = Status(le.Uint32(buf[0:]))
	r.Errno = int32(le.Uint32(buf[4:]))
	r.Code = int32(le.Uint32(buf[8:]))
	r.Signo = int32(le.Uint32(buf[12:]))
	r.FaultAddr = le.Uint64(buf[16:])
	return nil
}

func (r ObserveResult) String() string {
	switch r.Status {
	case StatusStopped:
		return fmt.Sprintf("Result[stopped sig=%d code=%d addr=%#x]", r.Signo, r.Code, r.FaultAddr)
	case StatusExited:
		return fmt.Sprintf("Result[exited code=%d]", r.Code)
	case StatusSignaled:
		return fmt.Sprintf("Result[signaled sig=%d]", r.Signo)
	case StatusSetupFailure:
		return fmt.Sprintf("Result[setup failure errno=%d]", r.Errno)
	default:
		return fmt.Sprintf("Result[%v]", r.Status)
	}
}
