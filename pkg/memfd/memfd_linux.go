package memfd

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// 创建标志：执行 exec 时自动关闭，且允许后续密封
const createFlag = unix.MFD_CLOEXEC | unix.MFD_ALLOW_SEALING

// 只读密封：禁止再密封、禁止伸缩、禁止写入
const roSeal = unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE

// New 创建一个新的 memfd，name 仅用于调试显示。
// 调用者负责关闭返回的文件。
func New(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, createFlag)
	if err != nil {
		return nil, fmt.Errorf("memfd: memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), name)
	if file == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memfd: NewFile failed for %v", name)
	}
	return file, nil
}

// DupToMemfd 把 reader 的内容装入一个密封为只读的 memfd。
// 返回的描述符适合作为映射编辑的 source：持有任何一端都改不了页内容。
func DupToMemfd(name string, reader io.Reader) (*os.File, error) {
	file, err := New(name)
	if err != nil {
		return nil, fmt.Errorf("DupToMemfd: %w", err)
	}
	if _, err = file.ReadFrom(reader); err != nil {
		file.Close()
		return nil, fmt.Errorf("DupToMemfd: read from %w", err)
	}
	if err := seal(file); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// NewPage 创建一个恰好一页大小、以 data 开头、其余填零的只读 memfd。
// 映射编辑以页为粒度，观测用的指令序列通常远小于一页。
func NewPage(name string, data []byte) (*os.File, error) {
	pageSize := os.Getpagesize()
	if len(data) > pageSize {
		return nil, fmt.Errorf("memfd: %d bytes exceed one page (%d)", len(data), pageSize)
	}
	file, err := New(name)
	if err != nil {
		return nil, err
	}
	if err := file.Truncate(int64(pageSize)); err != nil {
		file.Close()
		return nil, fmt.Errorf("memfd: truncate: %w", err)
	}
	if _, err := file.WriteAt(data, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("memfd: write: %w", err)
	}
	if err := seal(file); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

func seal(file *os.File) error {
	if _, err := unix.FcntlInt(file.Fd(), unix.F_ADD_SEALS, roSeal); err != nil {
		return fmt.Errorf("memfd: seal: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("memfd: seek: %w", err)
	}
	return nil
}
