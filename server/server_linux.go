//go:build linux
// +build linux

// Package server 把观测流水线挂到 unix socket 命令通道上。
// 每条连接串行处理定长命令记录：PREPARE 孵化目标并回句柄，
// OBSERVE 执行流水线并回结果记录。映射编辑引用的资源描述符
// 随 PREPARE 以 SCM_RIGHTS 传入，从 3 号槽起进入目标描述符表。
// 连接上备妥的目标随连接关闭一并释放。
package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/zqzqsb/observer/observer"
	"github.com/zqzqsb/observer/pkg/rlimit"
	"github.com/zqzqsb/observer/pkg/unixsocket"
	"github.com/zqzqsb/observer/wire"
)

// Config 是服务侧统一施加给所有目标的策略
type Config struct {
	// RLimits 每个目标的资源上限
	RLimits rlimit.RLimits
	// Confine 为 true 时所有目标都带禁闭过滤器
	Confine bool
	// Allow 覆盖禁闭放行列表，空表取标准列表
	Allow []string
	// Credential 非空时目标降权到该身份
	Credential *syscall.Credential
	// OutputLimit 目标 stdout/stderr 的收集上界
	OutputLimit int64
}

// Server 在命令通道上分发 PREPARE/OBSERVE
type Server struct {
	obs  *observer.Observer
	conf Config
	hnd  observer.Handler
}

// New 创建一个服务实例，h 为空时静默
func New(conf Config, h observer.Handler) *Server {
	if h == nil {
		h = nopHandler{}
	}
	return &Server{
		obs:  observer.New(h),
		conf: conf,
		hnd:  h,
	}
}

type nopHandler struct{}

func (nopHandler) Debug(v ...interface{}) {}

// Serve 接受连接直到监听端关闭，每条连接一个串行处理循环
func (s *Server) Serve(l *unixsocket.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go s.ServeConn(conn)
	}
}

// Close 释放全部目标
func (s *Server) Close() error {
	return s.obs.Close()
}

// 回复记录首 4 字节是错误码（0 为成功），其后是命令各自的载荷。
// 边界层错误翻译为互相可区分的错误码。
func boundaryErrno(err error) unix.Errno {
	switch {
	case errors.Is(err, wire.ErrUnknownCommand):
		return unix.ENOTTY
	case errors.Is(err, wire.ErrTooManyEdits), errors.Is(err, wire.ErrShortRecord):
		return unix.EINVAL
	case errors.Is(err, observer.ErrUnknownTarget):
		return unix.ESRCH
	case errors.Is(err, observer.ErrTargetBusy):
		return unix.EBUSY
	case errors.Is(err, observer.ErrTargetGone):
		return unix.ECHILD
	default:
		var errno unix.Errno
		if errors.As(err, &errno) {
			return errno
		}
		return unix.EIO
	}
}

// ServeConn 在一条连接上循环处理命令记录，连接关闭时
// 释放该连接备妥的全部目标
func (s *Server) ServeConn(conn *unixsocket.Socket) {
	defer conn.Close()

	var owned []int32
	defer func() {
		for _, pid := range owned {
			s.obs.Release(pid)
		}
	}()

	buf := make([]byte, 4+wire.RequestSize+wire.RegisterSize)
	for {
		n, msg, err := conn.RecvMsg(buf)
		if err != nil || n == 0 {
			return
		}
		if n < 4 {
			closeFds(msg.Fds)
			s.reply(conn, boundaryErrno(wire.ErrShortRecord), nil)
			continue
		}

		cmd := wire.Command(binary.LittleEndian.Uint32(buf[:4]))
		switch cmd {
		case wire.CmdPrepare:
			pid, err := s.prepare(msg.Fds)
			if err != nil {
				s.hnd.Debug("prepare failed:", err)
				s.reply(conn, boundaryErrno(err), nil)
				continue
			}
			owned = append(owned, pid)
			var payload [4]byte
			binary.LittleEndian.PutUint32(payload[:], uint32(pid))
			s.reply(conn, 0, payload[:])

		case wire.CmdObserve:
			// OBSERVE 不携带描述符，误传的一律回收
			closeFds(msg.Fds)
			res, err := s.observe(buf[4:n])
			if err != nil {
				s.hnd.Debug("observe rejected:", err)
				s.reply(conn, boundaryErrno(err), nil)
				continue
			}
			payload, _ := res.MarshalBinary()
			s.reply(conn, 0, payload)

		default:
			closeFds(msg.Fds)
			s.hnd.Debug("unknown command:", cmd)
			s.reply(conn, boundaryErrno(wire.ErrUnknownCommand), nil)
		}
	}
}

// prepare 孵化目标；传入的描述符在目标持有副本后立即归还
func (s *Server) prepare(fds []int) (int32, error) {
	defer closeFds(fds)

	sources := make([]uintptr, 0, len(fds))
	for _, fd := range fds {
		sources = append(sources, uintptr(fd))
	}
	return s.obs.Prepare(observer.Config{
		Sources:     sources,
		RLimits:     s.conf.RLimits,
		Confine:     s.conf.Confine,
		Allow:       s.conf.Allow,
		Credential:  s.conf.Credential,
		OutputLimit: s.conf.OutputLimit,
	})
}

func (s *Server) observe(record []byte) (wire.ObserveResult, error) {
	var req wire.ObserveRequest
	if err := req.UnmarshalBinary(record); err != nil {
		return wire.ObserveResult{}, err
	}
	res, err := s.obs.Observe(&req)
	if err != nil {
		return wire.ObserveResult{}, err
	}
	return res.ObserveResult, nil
}

func (s *Server) reply(conn *unixsocket.Socket, errno unix.Errno, payload []byte) {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(errno))
	copy(buf[4:], payload)
	if err := conn.SendMsg(buf, unixsocket.Msg{}); err != nil {
		s.hnd.Debug("reply failed:", err)
	}
}

func closeFds(fds []int) {
	for _, fd := range fds {
		syscall.Close(fd)
	}
}

// Client 是命令通道的调用端封装
type Client struct {
	conn *unixsocket.Socket
}

// NewClient 包装一条已建立的命令通道连接
func NewClient(conn *unixsocket.Socket) *Client {
	return &Client{conn: conn}
}

// DialClient 连接到 path 上的观测服务
func DialClient(path string) (*Client, error) {
	conn, err := unixsocket.Dial(path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip 发送一条命令记录并收取回复，剥离错误码头部
func (c *Client) roundTrip(cmd wire.Command, payload []byte, fds []int) ([]byte, error) {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(cmd))
	copy(buf[4:], payload)
	if err := c.conn.SendMsg(buf, unixsocket.Msg{Fds: fds}); err != nil {
		return nil, err
	}

	reply := make([]byte, 4+wire.ResultSize)
	n, _, err := c.conn.RecvMsg(reply)
	if err != nil {
		return nil, err
	}
	if n < 4 {
		return nil, wire.ErrShortRecord
	}
	if errno := binary.LittleEndian.Uint32(reply[:4]); errno != 0 {
		return nil, fmt.Errorf("server: %v: %w", cmd, unix.Errno(errno))
	}
	return reply[4:n], nil
}

// Prepare 请求孵化一个目标，fds 从 3 号槽起进入目标描述符表
func (c *Client) Prepare(fds []int) (int32, error) {
	payload, err := c.roundTrip(wire.CmdPrepare, nil, fds)
	if err != nil {
		return 0, err
	}
	if len(payload) < 4 {
		return 0, wire.ErrShortRecord
	}
	return int32(binary.LittleEndian.Uint32(payload)), nil
}

// Observe 对句柄指向的目标执行一次观测
func (c *Client) Observe(req *wire.ObserveRequest) (wire.ObserveResult, error) {
	var res wire.ObserveResult
	record, err := req.MarshalBinary()
	if err != nil {
		return res, err
	}
	payload, err := c.roundTrip(wire.CmdObserve, record, nil)
	if err != nil {
		return res, err
	}
	if err := res.UnmarshalBinary(payload); err != nil {
		return res, err
	}
	return res, nil
}
