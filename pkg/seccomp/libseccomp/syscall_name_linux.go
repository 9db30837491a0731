package libseccomp

import (
	"fmt"

	"github.com/elastic/go-seccomp-bpf/arch"
)

// info 是当前体系结构的系统调用号/名称映射表
var info, errInfo = arch.GetInfo("")

// ToSyscallName 把系统调用号翻译为名称，用于诊断输出
// （例如目标被 SIGSYS 终止时报告它试图发出的调用）
func ToSyscallName(sysno uint) (string, error) {
	if errInfo != nil {
		return "", errInfo
	}
	n, ok := info.SyscallNumbers[int(sysno)]
	if !ok {
		return "", fmt.Errorf("syscall no %d does not exist", sysno)
	}
	return n, nil
}
