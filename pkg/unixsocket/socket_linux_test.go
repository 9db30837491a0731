package unixsocket

import (
	"bytes"
	"os"
	"testing"
)

func TestSendRecvMsg(t *testing.T) {
	a, b, err := NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	payload := []byte("record")
	if err := a.SendMsg(payload, Msg{}); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := b.RecvMsg(buf)
	if err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Errorf("received %q, want %q", buf[:n], payload)
	}
}

func TestPassFd(t *testing.T) {
	a, b, err := NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	f, err := os.CreateTemp(t.TempDir(), "source")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString("backing"); err != nil {
		t.Fatal(err)
	}

	if err := a.SendMsg([]byte{0}, Msg{Fds: []int{int(f.Fd())}}); err != nil {
		t.Fatalf("SendMsg with fd: %v", err)
	}

	buf := make([]byte, 16)
	_, msg, err := b.RecvMsg(buf)
	if err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if len(msg.Fds) != 1 {
		t.Fatalf("received %d fds, want 1", len(msg.Fds))
	}
	received := os.NewFile(uintptr(msg.Fds[0]), "received")
	defer received.Close()

	got := make([]byte, 7)
	if _, err := received.ReadAt(got, 0); err != nil {
		t.Fatalf("read via passed fd: %v", err)
	}
	if string(got) != "backing" {
		t.Errorf("passed fd content = %q, want %q", got, "backing")
	}
}

func TestListenDial(t *testing.T) {
	path := t.TempDir() + "/observer.sock"
	l, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		buf := make([]byte, 8)
		n, _, err := conn.RecvMsg(buf)
		if err != nil {
			done <- err
			return
		}
		done <- conn.SendMsg(buf[:n], Msg{})
	}()

	c, err := Dial(path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if err := c.SendMsg([]byte("ping"), Msg{}); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	buf := make([]byte, 8)
	n, _, err := c.RecvMsg(buf)
	if err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("echo = %q, want %q", buf[:n], "ping")
	}
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
}
