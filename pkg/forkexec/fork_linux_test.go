package forkexec

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"sort"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/zqzqsb/observer/pkg/rlimit"
	pkgseccomp "github.com/zqzqsb/observer/pkg/seccomp"
	"github.com/zqzqsb/observer/pkg/seccomp/libseccomp"
)

// 测试数据来自 amd64 Linux 环境

func reap(t testing.TB, pid int) {
	t.Helper()
	collectFailedChild(pid)
}

func startTarget(t testing.TB, r *Runner) int {
	t.Helper()
	pid, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return pid
}

func TestStartStopsAtStub(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r := &Runner{Files: []uintptr{0, 1, 2}}
	pid := startTarget(t, r)
	defer reap(t, pid)

	// 初始停止已由 Start 消费；恢复后目标必须立刻再陷一次
	if err := unix.PtraceCont(pid, 0); err != nil {
		t.Fatalf("cont: %v", err)
	}
	var wstatus unix.WaitStatus
	if _, err := unix.Wait4(pid, &wstatus, unix.WALL, nil); err != nil {
		t.Fatalf("wait4: %v", err)
	}
	if !wstatus.Stopped() || wstatus.StopSignal() != unix.SIGTRAP {
		t.Fatalf("status = %v, want SIGTRAP stop", wstatus)
	}
}

func TestStartWithConfinement(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	builder := libseccomp.Builder{
		Allow:   libseccomp.TargetAllows,
		Default: pkgseccomp.ActionKill,
	}
	filter, err := builder.Build()
	if err != nil {
		t.Fatalf("build filter: %v", err)
	}

	r := &Runner{
		Files:   []uintptr{0, 1, 2},
		Seccomp: filter,
		RLimits: (&rlimit.RLimits{
			CPU:         1,
			DisableCore: true,
		}).PrepareRLimit(),
	}
	pid := startTarget(t, r)
	defer reap(t, pid)

	// 过滤器放行了停桩自陷，目标应照常循环
	if err := unix.PtraceCont(pid, 0); err != nil {
		t.Fatalf("cont: %v", err)
	}
	var wstatus unix.WaitStatus
	if _, err := unix.Wait4(pid, &wstatus, unix.WALL, nil); err != nil {
		t.Fatalf("wait4: %v", err)
	}
	if !wstatus.Stopped() || wstatus.StopSignal() != unix.SIGTRAP {
		t.Fatalf("status = %v, want SIGTRAP stop", wstatus)
	}
}

func TestStartClosesInheritedFds(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// 额外撑开几个描述符模拟守护进程的监听/连接 socket；
	// 目标不 execve，这些必须被孵化路径显式关闭
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer pr.Close()
	defer pw.Close()

	r := &Runner{Files: []uintptr{0, 1, 2}}
	pid := startTarget(t, r)
	defer reap(t, pid)

	ents, err := os.ReadDir(fmt.Sprintf("/proc/%d/fd", pid))
	if err != nil {
		t.Fatalf("read fd table: %v", err)
	}
	got := make([]string, 0, len(ents))
	for _, e := range ents {
		got = append(got, e.Name())
	}
	sort.Strings(got)
	if want := []string{"0", "1", "2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("target fd table = %v, want %v", got, want)
	}
}

func TestStartBadFd(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r := &Runner{Files: []uintptr{0, 1, 1 << 20}}
	if _, err := r.Start(); err == nil {
		t.Fatal("Start with invalid fd succeeded")
	} else if ce, ok := err.(ChildError); !ok || ce.Location != LocDup3 {
		t.Fatalf("err = %v, want dup3 ChildError", err)
	}
}

func BenchmarkSpawnTarget(b *testing.B) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r := &Runner{Files: []uintptr{0, 1, 2}}
	for i := 0; i < b.N; i++ {
		pid, err := r.Start()
		if err != nil {
			b.Fatal(err)
		}
		reap(b, pid)
	}
}
