// Package pipe 提供有上界的管道收集器，用于截留观测目标的
// 标准输出和标准错误。被观测代码理论上写不了多少东西
// （禁闭过滤器基本禁止 write），但一旦放行，收集必须有上界，
// 否则一个失控目标就能撑爆守护进程的内存。
package pipe

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Buffer 包装一个可写管道，把读端最多 Max 字节收进缓冲区
type Buffer struct {
	W      *os.File        // 管道写入端，交给目标进程
	Buffer *bytes.Buffer   // 收集到的数据
	Done   <-chan struct{} // 收集完成时关闭
	Max    int64           // 最大收集字节数
}

// NewPipe 创建管道并启动后台复制：最多 n 字节进入 writer，
// 其余数据被持续丢弃，保证写端不会因管道满而阻塞或收到 SIGPIPE。
// 调用者负责关闭返回的写入端。
func NewPipe(writer io.Writer, n int64) (<-chan struct{}, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	done := make(chan struct{})
	go func() {
		io.CopyN(writer, r, n)
		close(done)
		io.Copy(io.Discard, r)
		r.Close()
	}()
	return done, w, nil
}

// NewBuffer 创建一个上界为 max 的收集缓冲区。
// 多收 1 字节，使调用方能区分「恰好写满」与「被截断」。
// 依赖 Done 通道时需要先在本进程关闭写入端。
func NewBuffer(max int64) (*Buffer, error) {
	buffer := new(bytes.Buffer)
	done, w, err := NewPipe(buffer, max+1)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		W:      w,
		Max:    max,
		Buffer: buffer,
		Done:   done,
	}, nil
}

func (b Buffer) String() string {
	return fmt.Sprintf("Buffer[%d/%d]", b.Buffer.Len(), b.Max)
}
