package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/google/subcommands"

	"github.com/zqzqsb/observer/observer"
	"github.com/zqzqsb/observer/pkg/unixsocket"
	"github.com/zqzqsb/observer/server"
)

const defaultSocket = "/run/observerd.sock"

// serveCmd 实现 "serve" 子命令
type serveCmd struct {
	socket string
	config string
	debug  bool
}

func (*serveCmd) Name() string {
	return "serve"
}

func (*serveCmd) Synopsis() string {
	return "在 unix socket 上提供观测命令通道"
}

func (*serveCmd) Usage() string {
	return `serve [-socket path] [-config file] [-debug]
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.socket, "socket", defaultSocket, "命令通道 socket 路径")
	f.StringVar(&c.config, "config", "", "YAML 配置文件路径")
	f.BoolVar(&c.debug, "debug", false, "输出流水线调试日志")
}

func (c *serveCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	logger := log.New(os.Stderr, "observerd: ", log.LstdFlags)

	conf, socket, err := loadConfig(c.config)
	if err != nil {
		logger.Println(err)
		return subcommands.ExitFailure
	}
	// 命令行的 socket 路径优先于配置文件
	if c.socket != defaultSocket || socket == "" {
		socket = c.socket
	}

	var hnd observer.Handler
	if c.debug {
		hnd = debugHandler{logger: logger}
	}

	l, err := unixsocket.Listen(socket)
	if err != nil {
		logger.Println(err)
		return subcommands.ExitFailure
	}
	defer l.Close()

	srv := server.New(conf, hnd)
	defer srv.Close()

	logger.Println("listening on", socket)
	if err := srv.Serve(l); err != nil {
		logger.Println("serve:", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
