package observer

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zqzqsb/observer/pkg/forkexec"
	"github.com/zqzqsb/observer/pkg/pipe"
	"github.com/zqzqsb/observer/pkg/rlimit"
	"github.com/zqzqsb/observer/pkg/seccomp"
	"github.com/zqzqsb/observer/pkg/seccomp/libseccomp"
	"github.com/zqzqsb/observer/ptracer"
	"github.com/zqzqsb/observer/wire"
)

// 目标 stdout/stderr 收集的默认上界
const defaultOutputLimit = 32 << 10

// Config 描述一次 PREPARE 要孵化的目标
type Config struct {
	// Sources 从 3 号槽起进入目标的描述符表；映射编辑的
	// sourceHandle 按目标表编号解释（0/1/2 接输出管道）。
	// 资源是借用的：目标表持有副本，本包从不关闭调用方的原件。
	Sources []uintptr

	// RLimits 目标的资源上限
	RLimits rlimit.RLimits

	// Confine 为 true 时给目标安装禁闭过滤器，
	// 放行列表取 Allow，其余调用一律击杀
	Confine bool

	// Allow 覆盖禁闭放行列表，空表取标准列表 TargetAllows。
	// 列表收窄到流水线注入所需调用之下时，观测会以设置失败告终。
	Allow []string

	// Credential 非空时目标在停住前降权到该身份
	Credential *syscall.Credential

	// OutputLimit 是 stdout/stderr 的收集上界（字节），0 取默认值
	OutputLimit int64
}

type operation struct {
	f    func()
	done chan struct{}
}

// Target 是一个已备妥、停在自陷停桩上的观测目标。
// ptrace 以线程为 tracer：孵化目标的锁定线程串行执行对它的
// 全部操作，Observe 把流水线闭包投递到该线程上运行。
type Target struct {
	pid int
	hnd Handler

	// 入场令牌：同一目标同一时刻至多一次观测在途，
	// 第二个并发请求直接被拒绝而不是排队
	mu     sync.Mutex
	closed bool
	gone   bool

	ops chan operation

	Out    *pipe.Buffer // 目标 stdout 的有界收集
	ErrOut *pipe.Buffer // 目标 stderr 的有界收集
}

// NewTarget 孵化一个目标并等它停在停桩上
func NewTarget(conf Config, h Handler) (*Target, error) {
	if h == nil {
		h = nopHandler{}
	}
	outLimit := conf.OutputLimit
	if outLimit <= 0 {
		outLimit = defaultOutputLimit
	}
	out, err := pipe.NewBuffer(outLimit)
	if err != nil {
		return nil, err
	}
	errOut, err := pipe.NewBuffer(outLimit)
	if err != nil {
		out.W.Close()
		return nil, err
	}

	var filter seccomp.Filter
	if conf.Confine {
		allow := conf.Allow
		if len(allow) == 0 {
			allow = libseccomp.TargetAllows
		}
		b := libseccomp.Builder{
			Allow:   allow,
			Default: seccomp.ActionKill,
		}
		if filter, err = b.Build(); err != nil {
			out.W.Close()
			errOut.W.Close()
			return nil, fmt.Errorf("observer: build confinement filter: %w", err)
		}
	}

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		out.W.Close()
		errOut.W.Close()
		return nil, err
	}

	files := make([]uintptr, 0, 3+len(conf.Sources))
	files = append(files, null.Fd(), out.W.Fd(), errOut.W.Fd())
	files = append(files, conf.Sources...)

	r := &forkexec.Runner{
		Files:      files,
		RLimits:    conf.RLimits.PrepareRLimit(),
		Seccomp:    filter,
		Credential: conf.Credential,
	}

	t := &Target{
		hnd:    h,
		ops:    make(chan operation),
		Out:    out,
		ErrOut: errOut,
	}
	started := make(chan error)
	go t.loop(r, started)
	err = <-started

	// 目标已持有自己的副本，父进程侧的描述符立即归还
	null.Close()
	out.W.Close()
	errOut.W.Close()
	if err != nil {
		return nil, err
	}
	h.Debug("target ready:", t.pid)
	return t, nil
}

// loop 是目标的 tracer 线程：孵化目标，然后串行执行投递来的操作。
// 线程在目标整个生命周期内保持锁定，随目标一同退役。
func (t *Target) loop(r *forkexec.Runner, started chan<- error) {
	runtime.LockOSThread()
	pid, err := r.Start()
	if err != nil {
		started <- err
		runtime.UnlockOSThread()
		return
	}
	t.pid = pid
	started <- nil

	for op := range t.ops {
		op.f()
		close(op.done)
	}
	// gone 的目标已在流水线的 wait4 里被收割，pid 可能已被复用，
	// 此时绝不能再补一发 SIGKILL；通道关闭保证这里能看到 gone
	if !t.gone {
		killAndReap(pid)
	}
}

// killAndReap 击杀目标并回收僵尸；目标已死时等待直接返回
func killAndReap(pid int) {
	unix.Kill(pid, unix.SIGKILL)
	var wstatus unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &wstatus, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || wstatus.Exited() || wstatus.Signaled() {
			return
		}
		unix.PtraceCont(pid, int(unix.SIGKILL))
	}
}

// Pid 返回目标进程号，对外即观测句柄
func (t *Target) Pid() int {
	return t.pid
}

// Observe 在此目标上执行一次观测流水线。
// 协议校验失败与无效目标在任何阶段运行之前被拒绝且不写结果；
// 其余路径恰好产生一条结果记录。目标以退出告终的观测
// 会使句柄失效，后续观测返回 ErrTargetGone。
func (t *Target) Observe(req *wire.ObserveRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if !t.mu.TryLock() {
		return Result{}, ErrTargetBusy
	}
	defer t.mu.Unlock()
	if t.closed || t.gone {
		return Result{}, ErrTargetGone
	}

	// 按值快照整个请求：施加期间调用方的并发改写不可见
	local := *req
	var res Result
	t.run(func() { res = t.observe(&local) })

	if res.Status == wire.StatusExited || res.Status == wire.StatusSignaled {
		t.gone = true
	}
	return res, nil
}

func (t *Target) run(f func()) {
	op := operation{f: f, done: make(chan struct{})}
	t.ops <- op
	<-op.done
}

// observe 在 tracer 线程上顺序执行四段流水线；
// 任何阶段失败都直接终结本次调用，后续阶段不再运行
func (t *Target) observe(req *wire.ObserveRequest) (res Result) {
	sTime := time.Now()

	if pos, err := applyMappings(ptraceInjector{t.pid}, req); err != nil {
		t.hnd.Debug("mapping stage failed at edit", pos, ":", err)
		res.FailedEdit = pos
		return setupFailure(res, err, sTime)
	}

	if err := setRegisters(t.pid, &req.Regs); err != nil {
		t.hnd.Debug("register stage failed:", err)
		return setupFailure(res, err, sTime)
	}
	res.SetUpTime = time.Since(sTime)

	rTime := time.Now()
	wres, err := resumeAndWait(t.pid)
	res.RunningTime = time.Since(rTime)
	if err != nil {
		t.hnd.Debug("resume failed:", err)
		return setupFailure(res, err, sTime)
	}
	res.ObserveResult = wres
	t.hnd.Debug("observation:", res)
	return res
}

// setupFailure 把阶段错误编码为设置失败结果：
// 只填 Errno，信号字段保持零值
func setupFailure(res Result, err error, sTime time.Time) Result {
	res.Status = wire.StatusSetupFailure
	res.Errno = int32(errnoOf(err))
	res.SetUpTime = time.Since(sTime)
	return res
}

// errnoOf 提取底层错误码；目标消亡归一为 ESRCH，
// 无法归类的失败以 EIO 呈现
func errnoOf(err error) unix.Errno {
	if errors.Is(err, ptracer.ErrExited) {
		return unix.ESRCH
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

// Snapshot 读取目标当前的寄存器文件，
// 供调用方在真实上下文之上构造注入快照
func (t *Target) Snapshot() (wire.RegisterSnapshot, error) {
	var snap wire.RegisterSnapshot
	if !t.mu.TryLock() {
		return snap, ErrTargetBusy
	}
	defer t.mu.Unlock()
	if t.closed || t.gone {
		return snap, ErrTargetGone
	}
	var err error
	t.run(func() { err = getRegisters(t.pid, &snap) })
	return snap, err
}

// Close 终结目标并让出 tracer 线程，幂等
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.ops)
	return nil
}
