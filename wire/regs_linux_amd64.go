package wire

import "encoding/binary"

// RegisterSize 是 x86_64 用户寄存器文件（user_regs_struct）的字节数
const RegisterSize = 216

// x86_64 布局中少数本层需要触碰的槽位偏移。
// 快照整体仍按不透明字节处理，只有程序计数器和栈指针
// 需要在构造请求与诊断时被读写。
const (
	regOffRip    = 16 * 8
	regOffCs     = 17 * 8
	regOffEflags = 18 * 8
	regOffRsp    = 19 * 8
	regOffSs     = 20 * 8
)

// 用户态代码段与栈段选择子，以及只开中断位的标志寄存器基线
const (
	userCS     = 0x33
	userSS     = 0x2b
	baseEflags = 0x202
)

// NewUserSnapshot 返回一个可直接注入的用户态基线快照：
// 段选择子与标志寄存器取用户态合法值，其余槽位全零。
// 调用方至少还要设置程序计数器。
func NewUserSnapshot() RegisterSnapshot {
	var r RegisterSnapshot
	binary.LittleEndian.PutUint64(r[regOffCs:], userCS)
	binary.LittleEndian.PutUint64(r[regOffSs:], userSS)
	binary.LittleEndian.PutUint64(r[regOffEflags:], baseEflags)
	return r
}

// RegisterSnapshot 是目标体系结构定义的完整寄存器文件快照。
// 注入时整体覆盖目标的保存上下文，不做逐字段合并。
type RegisterSnapshot [RegisterSize]byte

// PC 返回快照中的程序计数器
func (r *RegisterSnapshot) PC() uint64 {
	return binary.LittleEndian.Uint64(r[regOffRip:])
}

// SetPC 设置快照中的程序计数器
func (r *RegisterSnapshot) SetPC(pc uint64) {
	binary.LittleEndian.PutUint64(r[regOffRip:], pc)
}

// SP 返回快照中的栈指针
func (r *RegisterSnapshot) SP() uint64 {
	return binary.LittleEndian.Uint64(r[regOffRsp:])
}

// SetSP 设置快照中的栈指针
func (r *RegisterSnapshot) SetSP(sp uint64) {
	binary.LittleEndian.PutUint64(r[regOffRsp:], sp)
}
