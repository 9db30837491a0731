package observer

import (
	"fmt"
	"time"

	"github.com/zqzqsb/observer/wire"
)

// Result 是一次观测的完整结果：跨边界的定形记录，
// 加上只在进程内有意义的度量与失败定位。
type Result struct {
	wire.ObserveResult

	// FailedEdit 是映射阶段失败编辑的 1 基序号（unmap 在前），
	// 0 表示映射阶段整体成功。失败序号之前的编辑已经生效且不回滚。
	FailedEdit int

	SetUpTime   time.Duration // 映射与寄存器阶段耗时
	RunningTime time.Duration // 恢复到停止的耗时
}

func (r Result) String() string {
	switch r.Status {
	case wire.StatusStopped:
		return fmt.Sprintf("Result[stopped sig=%d code=%d addr=%#x][%v %v]",
			r.Signo, r.Code, r.FaultAddr, r.SetUpTime, r.RunningTime)
	case wire.StatusExited:
		return fmt.Sprintf("Result[exited code=%d][%v %v]", r.Code, r.SetUpTime, r.RunningTime)
	case wire.StatusSignaled:
		return fmt.Sprintf("Result[signaled sig=%d][%v %v]", r.Signo, r.SetUpTime, r.RunningTime)
	case wire.StatusSetupFailure:
		if r.FailedEdit > 0 {
			return fmt.Sprintf("Result[setup failure errno=%d edit=%d][%v]",
				r.Errno, r.FailedEdit, r.SetUpTime)
		}
		return fmt.Sprintf("Result[setup failure errno=%d][%v]", r.Errno, r.SetUpTime)
	default:
		return fmt.Sprintf("Result[%v]", r.Status)
	}
}
