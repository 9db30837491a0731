// Package unixsocket 封装 Linux unix socket 的带外消息收发，
// 用作观测服务的命令通道：定长命令记录走数据通道，
// 映射编辑引用的资源描述符与调用方凭证走 OOB 通道（SCM_RIGHTS /
// SCM_CREDENTIALS）。SOCK_SEQPACKET 保证记录边界不被拆散。
package unixsocket

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"syscall"
)

// OOB 缓冲区默认一页，足够容纳一批描述符与凭证
const oobSize = 4 << 10

// Socket 封装一条保留消息边界的 unix socket 连接
type Socket struct {
	*net.UnixConn
	sendBuff []byte
	recvBuff []byte
}

// Msg 是一条带外消息：传递的描述符与发送方凭证
type Msg struct {
	Fds  []int
	Cred *syscall.Ucred
}

func newSocket(conn *net.UnixConn) *Socket {
	return &Socket{
		UnixConn: conn,
		sendBuff: make([]byte, oobSize),
		recvBuff: make([]byte, oobSize),
	}
}

// NewSocket 把一个已有的 SOCK_SEQPACKET 描述符包装为 Socket。
// 描述符被设置为非阻塞和 close-on-exec，避免泄漏给目标进程。
func NewSocket(fd int) (*Socket, error) {
	syscall.SetNonblock(fd, true)
	syscall.CloseOnExec(fd)

	file := os.NewFile(uintptr(fd), "unix-socket")
	if file == nil {
		return nil, fmt.Errorf("unixsocket: %d is not a valid fd", fd)
	}
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, err
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unixsocket: %d is not a unix socket", fd)
	}
	return newSocket(unixConn), nil
}

// NewSocketPair 创建一对相连的 SOCK_SEQPACKET socket，
// 多用于测试和进程内自连接
func NewSocketPair() (*Socket, *Socket, error) {
	fd, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_SEQPACKET|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("unixsocket: socketpair: %w", err)
	}
	ins, err := NewSocket(fd[0])
	if err != nil {
		syscall.Close(fd[0])
		syscall.Close(fd[1])
		return nil, nil, fmt.Errorf("unixsocket: wrap sender: %w", err)
	}
	outs, err := NewSocket(fd[1])
	if err != nil {
		ins.Close()
		syscall.Close(fd[1])
		return nil, nil, fmt.Errorf("unixsocket: wrap receiver: %w", err)
	}
	return ins, outs, nil
}

// Listener 在 path 上监听 SOCK_SEQPACKET 连接
type Listener struct {
	*net.UnixListener
}

// Listen 创建命令通道监听端，已存在的同名 socket 文件会被移除
func Listen(path string) (*Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("unixsocket: remove %s: %w", path, err)
	}
	l, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("unixsocket: listen %s: %w", path, err)
	}
	return &Listener{l}, nil
}

// Accept 接受一条连接并包装为 Socket
func (l *Listener) Accept() (*Socket, error) {
	conn, err := l.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return newSocket(conn), nil
}

// Dial 连接到 path 上的命令通道
func Dial(path string) (*Socket, error) {
	conn, err := net.DialUnix("unixpacket", nil, &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("unixsocket: dial %s: %w", path, err)
	}
	return newSocket(conn), nil
}

// SetPassCred 设置 SO_PASSCRED，启用后消息携带发送方凭证
func (s *Socket) SetPassCred(option int) error {
	sysconn, err := s.SyscallConn()
	if err != nil {
		return err
	}
	return sysconn.Control(func(fd uintptr) {
		syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_PASSCRED, option)
	})
}

// SendMsg 发送一条数据记录及其带外内容
func (s *Socket) SendMsg(b []byte, m Msg) error {
	oob := bytes.NewBuffer(s.sendBuff[:0])
	if len(m.Fds) > 0 {
		oob.Write(syscall.UnixRights(m.Fds...))
	}
	if m.Cred != nil {
		oob.Write(syscall.UnixCredentials(m.Cred))
	}

	_, _, err := s.WriteMsgUnix(b, oob.Bytes(), nil)
	if err != nil {
		return err
	}
	return nil
}

// RecvMsg 接收一条数据记录并解析其带外内容
func (s *Socket) RecvMsg(b []byte) (int, Msg, error) {
	var msg Msg
	n, oobn, _, _, err := s.ReadMsgUnix(b, s.recvBuff)
	if err != nil {
		return 0, msg, err
	}
	msgs, err := syscall.ParseSocketControlMessage(s.recvBuff[:oobn])
	if err != nil {
		return 0, msg, err
	}
	msg, err = parseMsg(msgs)
	if err != nil {
		return 0, msg, err
	}
	return n, msg, nil
}

// parseMsg 解析控制消息中的 SCM_CREDENTIALS 与 SCM_RIGHTS。
// 解析失败时关闭已经收到的描述符，避免泄漏。
func parseMsg(msgs []syscall.SocketControlMessage) (msg Msg, err error) {
	defer func() {
		if err != nil {
			for _, f := range msg.Fds {
				syscall.Close(f)
			}
			msg.Fds = nil
		}
	}()

	for _, m := range msgs {
		if m.Header.Level != syscall.SOL_SOCKET {
			continue
		}
		switch m.Header.Type {
		case syscall.SCM_CREDENTIALS:
			cred, err := syscall.ParseUnixCredentials(&m)
			if err != nil {
				return msg, err
			}
			msg.Cred = cred
		case syscall.SCM_RIGHTS:
			fds, err := syscall.ParseUnixRights(&m)
			if err != nil {
				return msg, err
			}
			msg.Fds = fds
		}
	}
	return msg, nil
}
