// Package forkexec 负责孵化观测目标：fork 出一个子进程，
// 在子进程里装好描述符表、资源限制与禁闭过滤器，声明接受
// ptrace 跟踪，然后在自陷停桩上停住等待第一次观测。
// 目标从不 execve——它的地址空间就是观测的画布，
// 每次 OBSERVE 都会按调用方的映射编辑重写它。
package forkexec

import (
	"syscall"

	"github.com/zqzqsb/observer/pkg/rlimit"
	"github.com/zqzqsb/observer/pkg/seccomp"
)

// Runner 是孵化一个观测目标所需的全部配置
type Runner struct {
	// Files 定义目标的描述符表，索引即目标里的描述符编号。
	// 0/1/2 通常接到输出收集管道；3 起的槽位装映射编辑
	// 将要引用的后备资源（sourceHandle 按目标表编号解释）。
	Files []uintptr

	// RLimits 在停住前通过 setrlimit 安装到目标上
	RLimits []rlimit.RLimit

	// Seccomp 是目标的禁闭过滤器；nil 表示不禁闭。
	// 过滤器在孵化同步写之前安装，安装失败可以照常报告；
	// 放行列表必须覆盖停桩循环用到的 write/close/getpid/kill。
	Seccomp seccomp.Filter

	// Credential 若非空，目标在停住前降权到该身份
	Credential *syscall.Credential
}
