package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"github.com/zqzqsb/observer/pkg/memfd"
	"github.com/zqzqsb/observer/server"
	"github.com/zqzqsb/observer/wire"
)

// probeCmd 实现 "probe" 子命令：把一段机器码装进一页，
// 备妥目标、映射该页并从页首执行，打印停止原因
type probeCmd struct {
	socket string
	code   string
	addr   uint64
}

func (*probeCmd) Name() string {
	return "probe"
}

func (*probeCmd) Synopsis() string {
	return "对一段机器码做一次完整观测"
}

func (*probeCmd) Usage() string {
	return `probe [-socket path] [-addr hexaddr] [-code hexbytes]
`
}

func (c *probeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.socket, "socket", defaultSocket, "命令通道 socket 路径")
	f.StringVar(&c.code, "code", "cc", "要执行的机器码（十六进制字节串）")
	f.Uint64Var(&c.addr, "addr", 0x500000000000, "代码页的映射地址（页对齐）")
}

func (c *probeCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	logger := log.New(os.Stderr, "probe: ", 0)

	code, err := hex.DecodeString(strings.ReplaceAll(c.code, " ", ""))
	if err != nil {
		logger.Println("decode code:", err)
		return subcommands.ExitUsageError
	}

	page, err := memfd.NewPage("probe-code", code)
	if err != nil {
		logger.Println(err)
		return subcommands.ExitFailure
	}
	defer page.Close()

	cl, err := server.DialClient(c.socket)
	if err != nil {
		logger.Println(err)
		return subcommands.ExitFailure
	}
	defer cl.Close()

	pid, err := cl.Prepare([]int{int(page.Fd())})
	if err != nil {
		logger.Println("prepare:", err)
		return subcommands.ExitFailure
	}
	logger.Println("target pid", pid)

	req := &wire.ObserveRequest{
		Pid:          pid,
		NumMaps:      1,
		MappingFlags: unix.MAP_PRIVATE | unix.MAP_FIXED,
	}
	req.Maps[0] = wire.MapEdit{Addr: c.addr, Source: 3, Prot: wire.ProtRead | wire.ProtExec}
	req.Regs = wire.NewUserSnapshot()
	req.Regs.SetPC(c.addr)

	res, err := cl.Observe(req)
	if err != nil {
		logger.Println("observe:", err)
		return subcommands.ExitFailure
	}
	fmt.Println(res)
	return subcommands.ExitSuccess
}
