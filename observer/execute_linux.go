package observer

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/zqzqsb/observer/ptracer"
	"github.com/zqzqsb/observer/wire"
)

// resumeAndWait 从刚注入的寄存器状态恢复目标，阻塞到下一次执行停止。
// 这是流水线里唯一可能长时间阻塞的一步；这里没有内部超时，
// 等待时长由调用方在外部约束。
func resumeAndWait(pid int) (wire.ObserveResult, error) {
	var res wire.ObserveResult

	if err := ptracer.Cont(pid, 0); err != nil {
		return res, err
	}

	var wstatus unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &wstatus, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("observer: wait4: %w", err)
		}
		break
	}
	return encodeStop(pid, wstatus), nil
}

// encodeStop 把捕获到的停止原因翻译为定形结果记录。
// Status 单独决定其余字段的含义；FaultAddr 只在带地址的
// 内存访问信号上填写，其余情况保持零值。
func encodeStop(pid int, wstatus unix.WaitStatus) wire.ObserveResult {
	switch {
	case wstatus.Exited():
		return wire.ObserveResult{
			Status: wire.StatusExited,
			Code:   int32(wstatus.ExitStatus()),
		}
	case wstatus.Signaled():
		return wire.ObserveResult{
			Status: wire.StatusSignaled,
			Signo:  int32(wstatus.Signal()),
		}
	default:
		sig := wstatus.StopSignal()
		res := wire.ObserveResult{
			Status: wire.StatusStopped,
			Signo:  int32(sig),
		}
		// group-stop 没有 siginfo（内核返回 EINVAL），结果只带信号号
		if si, err := ptracer.GetSiginfo(pid); err == nil {
			res.Code = si.Code
			if faultSignal(sig) {
				res.FaultAddr = si.Addr
			}
		}
		return res
	}
}

// faultSignal 判断信号是否携带出错地址
func faultSignal(sig unix.Signal) bool {
	return sig == unix.SIGSEGV || sig == unix.SIGBUS
}
