package forkexec

import (
	"fmt"
	"syscall"
)

// ErrorLocation 标记目标孵化失败的具体步骤
type ErrorLocation int

// ChildError 携带子进程侧失败的错误码与位置
type ChildError struct {
	Err      syscall.Errno
	Location ErrorLocation
	Index    int // 批量操作（dup3/setrlimit）中失败项的序号
}

// 位置常量按子进程初始化的先后顺序排列
const (
	LocClone ErrorLocation = iota + 1
	LocCloseWrite
	LocDup3
	LocCloseRange
	LocSetRlimit
	LocSetNoNewPrivs
	LocSetGroups
	LocSetGid
	LocSetUid
	LocPtraceMe
	LocSeccomp
	LocSyncWrite
	LocStop
)

var locToString = []string{
	"unknown",
	"clone",
	"close_write",
	"dup3",
	"close_range",
	"setrlimit",
	"set_no_new_privs",
	"setgroups",
	"setgid",
	"setuid",
	"ptrace_me",
	"seccomp",
	"sync_write",
	"stop",
}

func (e ErrorLocation) String() string {
	if e >= LocClone && e <= LocStop {
		return locToString[e]
	}
	return "unknown"
}

func (e ChildError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("%s(%d): %s", e.Location.String(), e.Index, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Location.String(), e.Err.Error())
}
