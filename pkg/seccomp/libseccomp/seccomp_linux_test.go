package libseccomp

import (
	"testing"

	"github.com/zqzqsb/observer/pkg/seccomp"
)

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name    string
		builder Builder
		wantErr bool
	}{
		{
			name: "confinement",
			builder: Builder{
				Allow:   TargetAllows,
				Default: seccomp.ActionKill,
			},
		},
		{
			name: "empty allow list",
			builder: Builder{
				Default: seccomp.ActionKill,
			},
		},
		{
			name: "errno default",
			builder: Builder{
				Allow:   []string{"exit_group"},
				Default: seccomp.ActionErrno,
			},
		},
		{
			name: "invalid syscall name",
			builder: Builder{
				Allow:   []string{"not_a_syscall"},
				Default: seccomp.ActionKill,
			},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			filter, err := tc.builder.Build()
			if tc.wantErr {
				if err == nil {
					t.Fatal("Build() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Build(): %v", err)
			}
			if len(filter) == 0 {
				t.Fatal("Build() returned empty filter")
			}
			// SockFprog 必须覆盖全部指令
			if prog := filter.SockFprog(); int(prog.Len) != len(filter) {
				t.Errorf("SockFprog len = %d, want %d", prog.Len, len(filter))
			}
		})
	}
}

func TestToSyscallName(t *testing.T) {
	// 0 在 x86_64 上是 read
	name, err := ToSyscallName(0)
	if err != nil {
		t.Fatalf("ToSyscallName(0): %v", err)
	}
	if name != "read" {
		t.Errorf("ToSyscallName(0) = %q, want %q", name, "read")
	}
	if _, err := ToSyscallName(1 << 20); err == nil {
		t.Error("ToSyscallName(huge) succeeded, want error")
	}
}
