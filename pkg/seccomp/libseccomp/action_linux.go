package libseccomp

import (
	libseccomp "github.com/elastic/go-seccomp-bpf"

	"github.com/zqzqsb/observer/pkg/seccomp"
)

// ToSeccompAction 把本包的 Action 映射到 go-seccomp-bpf 的动作。
// 未知动作一律按终止进程处理：禁闭过滤器宁可过严。
func ToSeccompAction(a seccomp.Action) libseccomp.Action {
	switch a.Action() {
	case seccomp.ActionAllow:
		return libseccomp.ActionAllow
	case seccomp.ActionErrno:
		return libseccomp.ActionErrno
	default:
		return libseccomp.ActionKillProcess
	}
}
