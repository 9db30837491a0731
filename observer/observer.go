//go:build linux
// +build linux

// Package observer 实现执行观测的核心流水线：对一个处于停住状态的
// 目标进程，按请求原子地施加一批映射编辑，整体注入寄存器快照，
// 恢复执行直到目标陷入、出错或收到信号，再把停止原因编码为
// 定形结果记录。每次 OBSERVE 是一条严格顺序的单发流水线：
// 映射 → 寄存器 → 恢复等待 → 编码，后一阶段绝不越过前一阶段的失败。
package observer

import (
	"errors"
	"sync"

	"github.com/zqzqsb/observer/wire"
)

// 边界层错误：流水线任何阶段开始前被拒绝，不写结果记录
var (
	// ErrUnknownTarget 表示请求中的目标进程号没有对应的已备妥目标
	ErrUnknownTarget = errors.New("observer: unknown target pid")
	// ErrTargetBusy 表示同一目标上已有一次观测在途。
	// 按契约这属于调用方的使用错误：入场令牌使它显式可见
	ErrTargetBusy = errors.New("observer: observation already in flight")
	// ErrTargetGone 表示目标已退出或被释放，对它的观测不再有效
	ErrTargetGone = errors.New("observer: target terminated")
)

// Handler 定义调试信息的输出接口
type Handler interface {
	Debug(v ...interface{})
}

type nopHandler struct{}

func (nopHandler) Debug(v ...interface{}) {}

// Observer 管理一张已备妥目标表，按进程号分发观测请求。
// 不同目标之间的观测互相独立，可以并发；同一目标上的并发
// 观测被入场令牌拒绝，串行化责任在调用方。
type Observer struct {
	// Handler 输出调试信息，空值表示静默
	Handler Handler

	mu      sync.Mutex
	targets map[int32]*Target
}

// New 创建一个空的观测器
func New(h Handler) *Observer {
	if h == nil {
		h = nopHandler{}
	}
	return &Observer{
		Handler: h,
		targets: make(map[int32]*Target),
	}
}

// Prepare 孵化一个新目标并返回其进程号作为句柄。
// 两次 Prepare 产生的句柄必然可区分：句柄就是各自的 pid。
func (o *Observer) Prepare(conf Config) (int32, error) {
	t, err := NewTarget(conf, o.Handler)
	if err != nil {
		return 0, err
	}
	pid := int32(t.Pid())

	o.mu.Lock()
	o.targets[pid] = t
	o.mu.Unlock()

	o.Handler.Debug("prepared target:", pid)
	return pid, nil
}

// Observe 对句柄指向的目标执行一次完整的观测流水线。
// 协议错误（编辑数越界）与无效目标在任何阶段运行之前被拒绝，
// 此时不写结果记录；其余所有路径都恰好产生一条结果。
// 以目标消亡告终的观测随手把句柄从表中摘除：pid 会被内核复用，
// 死表项一旦被同号的新目标覆盖，旧目标的 tracer 线程就收不回了。
func (o *Observer) Observe(req *wire.ObserveRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	o.mu.Lock()
	t, ok := o.targets[req.Pid]
	o.mu.Unlock()
	if !ok {
		return Result{}, ErrUnknownTarget
	}

	res, err := t.Observe(req)
	if err == nil && (res.Status == wire.StatusExited || res.Status == wire.StatusSignaled) {
		o.mu.Lock()
		if o.targets[req.Pid] == t {
			delete(o.targets, req.Pid)
		}
		o.mu.Unlock()
		t.Close()
		o.Handler.Debug("target gone, handle dropped:", req.Pid)
	}
	return res, err
}

// Release 终结并回收一个目标，句柄随之失效
func (o *Observer) Release(pid int32) error {
	o.mu.Lock()
	t, ok := o.targets[pid]
	delete(o.targets, pid)
	o.mu.Unlock()
	if !ok {
		return ErrUnknownTarget
	}
	return t.Close()
}

// Close 终结所有目标
func (o *Observer) Close() error {
	o.mu.Lock()
	targets := make([]*Target, 0, len(o.targets))
	for pid, t := range o.targets {
		targets = append(targets, t)
		delete(o.targets, pid)
	}
	o.mu.Unlock()

	var first error
	for _, t := range targets {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
