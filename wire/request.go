package wire

import (
	"encoding/binary"
	"fmt"
)

// 固定记录尺寸（字节）。布局见 MarshalBinary，跨边界逐位保持。
const (
	unmapEditSize = 8
	mapEditSize   = 8 + 4 + 1

	// RequestSize 是 ObserveRequest 固定部分的字节数
	RequestSize = 4 + 8 + 8 + 4 +
		MaxMappingEdits*unmapEditSize +
		MaxMappingEdits*mapEditSize +
		8 + 8
)

// UnmapEdit 表示移除目标进程中覆盖该地址的一页映射。
// 对已经未映射的地址执行是无操作，不是错误。
type UnmapEdit struct {
	Addr uint64
}

// MapEdit 表示在目标进程的 Addr 处安装一页映射，
// 由 Source 命名的描述符提供后备存储，Prot 为 Prot* 保护位组合。
// Source 指向目标进程描述符表中的一项，本协议只借用、从不关闭它。
type MapEdit struct {
	Addr   uint64
	Source int32
	Prot   uint8
}

// ObserveRequest 是一次观测的完整输入。
// Unmaps[0:NumUnmaps) 与 Maps[0:NumMaps) 之外的槽位被忽略且不做校验。
// Regs 是整体拷贝的寄存器快照，本层不逐字段解释。
type ObserveRequest struct {
	Pid          int32
	NumUnmaps    uint64
	NumMaps      uint64
	MappingFlags int32
	Unmaps       [MaxMappingEdits]UnmapEdit
	Maps         [MaxMappingEdits]MapEdit
	Regs         RegisterSnapshot
}

// Validate 执行边界层校验：编辑数量必须落在固定容量之内。
// 超限是协议错误，调用方不得让任何流水线阶段看到这样的请求。
func (r *ObserveRequest) Validate() error {
	if r.NumUnmaps > MaxMappingEdits {
		return fmt.Errorf("%w: %d unmaps", ErrTooManyEdits, r.NumUnmaps)
	}
	if r.NumMaps > MaxMappingEdits {
		return fmt.Errorf("%w: %d maps", ErrTooManyEdits, r.NumMaps)
	}
	return nil
}

// MarshalBinary 将请求编码为固定布局：
//
//	pid:int32  numUnmaps:uint64  numMaps:uint64  mappingFlags:int32
//	unmaps:32×{addr:uint64}
//	maps:32×{addr:uint64 source:int32 prot:uint8}
//	regsRef:uint64  resultRef:uint64  （套接字上恒为零）
//
// 其后紧跟 RegisterSize 字节的寄存器快照。
func (r *ObserveRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RequestSize+RegisterSize)
	le := binary.LittleEndian

	le.PutUint32(buf[0:], uint32(r.Pid))
	le.PutUint64(buf[4:], r.NumUnmaps)
	le.PutUint64(buf[12:], r.NumMaps)
	le.PutUint32(buf[20:], uint32(r.MappingFlags))

	off := 24
	for i := range r.Unmaps {
		le.PutUint64(buf[off:], r.Unmaps[i].Addr)
		off += unmapEditSize
	}
	for i := range r.Maps {
		le.PutUint64(buf[off:], r.Maps[i].Addr)
		le.PutUint32(buf[off+8:], uint32(r.Maps[i].Source))
		buf[off+12] = r.Maps[i].Prot
		off += mapEditSize
	}
	// regsRef 和 resultRef 是指针宽度的保留槽位，跨进程无意义
	off += 16

	copy(buf[off:], r.Regs[:])
	return buf, nil
}

// UnmarshalBinary 按 MarshalBinary 的布局解码。
// 只做形状检查；数量范围由 Validate 单独负责，
// 使边界层可以区分「记录损坏」与「数量越界」两类错误。
func (r *ObserveRequest) UnmarshalBinary(buf []byte) error {
	if len(buf) < RequestSize+RegisterSize {
		return fmt.Errorf("%w: request %d bytes, want %d", ErrShortRecord, len(buf), RequestSize+RegisterSize)
	}
	le := binary.LittleEndian

	r.Pid = int32(le.Uint32(buf[0:]))
	r.NumUnmaps = le.Uint64(buf[4:])
	r.NumMaps = le.Uint64(buf[12:])
	r.MappingFlags = int32(le.Uint32(buf[20:]))

	off := 24
	for i := range r.Unmaps {
		r.Unmaps[i].Addr = le.Uint64(buf[off:])
		off += unmapEditSize
	}
	for i := range r.Maps {
		r.Maps[i].Addr = le.Uint64(buf[off:])
		r.Maps[i].Source = int32(le.Uint32(buf[off+8:]))
		r.Maps[i].Prot = buf[off+12]
		off += mapEditSize
	}
	off += 16

	copy(r.Regs[:], buf[off:off+RegisterSize])
	return nil
}
