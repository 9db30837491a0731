package server

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zqzqsb/observer/pkg/memfd"
	"github.com/zqzqsb/observer/pkg/unixsocket"
	"github.com/zqzqsb/observer/wire"
)

const testPage = uint64(0x5ab000000000)

func startServer(t *testing.T, conf Config) *Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "observer.sock")
	l, err := unixsocket.Listen(path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := New(conf, nil)
	go srv.Serve(l)
	t.Cleanup(func() {
		l.Close()
		srv.Close()
	})

	c, err := DialClient(path)
	if err != nil {
		t.Fatalf("DialClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// 备妥目标并把快照请求定位到传入的代码页
func prepareWith(t *testing.T, c *Client, code []byte) (int32, *wire.ObserveRequest) {
	t.Helper()
	page, err := memfd.NewPage("code", code)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	defer page.Close()

	pid, err := c.Prepare([]int{int(page.Fd())})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	req := &wire.ObserveRequest{
		Pid:          pid,
		NumMaps:      1,
		MappingFlags: unix.MAP_PRIVATE | unix.MAP_FIXED,
	}
	req.Maps[0] = wire.MapEdit{Addr: testPage, Source: 3, Prot: wire.ProtRead | wire.ProtExec}
	req.Regs = wire.NewUserSnapshot()
	req.Regs.SetPC(testPage)
	return pid, req
}

func TestServeObserve(t *testing.T) {
	c := startServer(t, Config{})
	_, req := prepareWith(t, c, []byte{0xcc})

	res, err := c.Observe(req)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if res.Status != wire.StatusStopped || res.Signo != int32(unix.SIGTRAP) {
		t.Fatalf("res = %v, want SIGTRAP stop", res)
	}
}

func TestServeRejectsTooManyEdits(t *testing.T) {
	c := startServer(t, Config{})
	pid, _ := prepareWith(t, c, []byte{0xcc})

	req := &wire.ObserveRequest{Pid: pid, NumUnmaps: wire.MaxMappingEdits + 1}
	if _, err := c.Observe(req); !errors.Is(err, unix.EINVAL) {
		t.Fatalf("err = %v, want EINVAL", err)
	}
}

func TestServeUnknownTarget(t *testing.T) {
	c := startServer(t, Config{})

	req := &wire.ObserveRequest{Pid: 1}
	if _, err := c.Observe(req); !errors.Is(err, unix.ESRCH) {
		t.Fatalf("err = %v, want ESRCH", err)
	}
}

func TestServeUnknownCommand(t *testing.T) {
	c := startServer(t, Config{})

	if _, err := c.roundTrip(wire.Command(0x9999), nil, nil); !errors.Is(err, unix.ENOTTY) {
		t.Fatalf("err = %v, want ENOTTY", err)
	}
}

func TestServeShortRecord(t *testing.T) {
	c := startServer(t, Config{})
	pid, _ := prepareWith(t, c, []byte{0xcc})

	// 长度不足固定布局的 OBSERVE 记录在解码层被拒
	var head [8]byte
	binary.LittleEndian.PutUint32(head[:4], uint32(wire.CmdObserve))
	binary.LittleEndian.PutUint32(head[4:], uint32(pid))
	if err := c.conn.SendMsg(head[:], unixsocket.Msg{}); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	reply := make([]byte, 4+wire.ResultSize)
	n, _, err := c.conn.RecvMsg(reply)
	if err != nil || n < 4 {
		t.Fatalf("RecvMsg: n=%d err=%v", n, err)
	}
	if errno := binary.LittleEndian.Uint32(reply[:4]); unix.Errno(errno) != unix.EINVAL {
		t.Fatalf("errno = %d, want EINVAL", errno)
	}
}

func TestConnCloseReleasesTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observer.sock")
	l, err := unixsocket.Listen(path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	srv := New(Config{}, nil)
	defer srv.Close()
	go srv.Serve(l)

	c, err := DialClient(path)
	if err != nil {
		t.Fatalf("DialClient: %v", err)
	}
	pid, req := prepareWith(t, c, []byte{0xcc})
	c.Close()

	// 连接关闭后句柄失效，换一条连接也观测不到它
	c2, err := DialClient(path)
	if err != nil {
		t.Fatalf("DialClient: %v", err)
	}
	defer c2.Close()
	req.Pid = pid
	var lastErr error
	for i := 0; i < 100; i++ {
		if _, lastErr = c2.Observe(req); errors.Is(lastErr, unix.ESRCH) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("target survived connection close: %v", lastErr)
}
