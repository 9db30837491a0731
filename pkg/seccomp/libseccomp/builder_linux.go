package libseccomp

import (
	"syscall"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"

	"github.com/zqzqsb/observer/pkg/seccomp"
)

// Builder 构建目标禁闭过滤器
type Builder struct {
	Allow   []string       // 放行的系统调用名列表
	Default seccomp.Action // 列表之外的默认动作
}

// TargetAllows 是观测目标的标准放行列表：
// 映射施加器注入的调用（munmap/mmap/mprotect）、孵化收尾与
// 停桩自陷所用的 write/close/getpid/kill，以及干净退出的通道。
// write 只能触达孵化时接好的有界收集管道。
// 被观测代码发出的任何其他系统调用都会被击杀，以 SIGSYS 终止呈现。
var TargetAllows = []string{
	"munmap", "mmap", "mprotect",
	"write", "close", "getpid", "kill",
	"exit", "exit_group",
}

// Build 把配置编译为可安装的 BPF 过滤器
func (b *Builder) Build() (seccomp.Filter, error) {
	policy := libseccomp.Policy{
		DefaultAction: ToSeccompAction(b.Default),
		Syscalls: []libseccomp.SyscallGroup{
			{
				Action: libseccomp.ActionAllow,
				Names:  b.Allow,
			},
		},
	}

	program, err := policy.Assemble()
	if err != nil {
		return nil, err
	}
	return ExportBPF(program)
}

// ExportBPF 把 BPF 指令序列汇编为内核可读的过滤器
func ExportBPF(filter []bpf.Instruction) (seccomp.Filter, error) {
	raw, err := bpf.Assemble(filter)
	if err != nil {
		return nil, err
	}
	return sockFilter(raw), nil
}

func sockFilter(raw []bpf.RawInstruction) seccomp.Filter {
	filter := make(seccomp.Filter, 0, len(raw))
	for _, instruction := range raw {
		filter = append(filter, syscall.SockFilter{
			Code: instruction.Op,
			Jt:   instruction.Jt,
			Jf:   instruction.Jf,
			K:    instruction.K,
		})
	}
	return filter
}
