// Package seccomp 提供观测目标的系统调用禁闭过滤器。
// 被观测的指令序列运行在目标进程里，不受信任；过滤器把
// 它能发出的系统调用收窄到流水线自身注入所需的几个，
// 其余一律击杀——击杀以 SIGSYS 终止呈现，本身就是一种观测结果。
package seccomp

// Action 定义对系统调用的处理动作
type Action uint32

// 动作常量从 1 开始，保证零值无效
const (
	ActionInvalid Action = iota // 无效动作
	ActionAllow                 // 放行系统调用
	ActionErrno                 // 以错误码拒绝
	ActionKill                  // 终止进程
)

// ReturnCode 返回动作附带的返回码（高 16 位）
func (a Action) ReturnCode() uint16 {
	return uint16(a >> 16)
}

// WithReturnCode 为动作附加返回码
func (a Action) WithReturnCode(code uint16) Action {
	return a | Action(code)<<16
}

// Action 返回基本动作（不含返回码）
func (a Action) Action() Action {
	return Action(a & 0xffff)
}
