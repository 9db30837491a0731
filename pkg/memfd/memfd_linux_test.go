package memfd

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestDupToMemfdSealed(t *testing.T) {
	f, err := DupToMemfd("test", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("DupToMemfd: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 7)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(buf) != "payload" {
		t.Errorf("content = %q, want %q", buf, "payload")
	}
	// 密封后写入必须失败
	if _, err := f.WriteAt([]byte{0}, 0); err == nil {
		t.Error("write to sealed memfd succeeded")
	}
}

func TestNewPage(t *testing.T) {
	code := []byte{0xcc} // int3
	f, err := NewPage("probe-code", code)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() != int64(os.Getpagesize()) {
		t.Errorf("size = %d, want one page", st.Size())
	}

	buf := make([]byte, 2)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(buf, []byte{0xcc, 0x00}) {
		t.Errorf("page prefix = %v, want [0xcc 0x00]", buf)
	}
}

func TestNewPageTooLarge(t *testing.T) {
	if _, err := NewPage("big", make([]byte, os.Getpagesize()+1)); err == nil {
		t.Error("oversized payload accepted")
	}
}
