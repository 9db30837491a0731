// observerd 是执行观测服务的守护进程入口。
// serve 在 unix socket 上提供 PREPARE/OBSERVE 命令通道，
// probe 作为调用端对一小段机器码做一次完整观测，用于冒烟验证。
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/google/subcommands"
)

// debugHandler 把流水线调试信息转发到进程日志
type debugHandler struct {
	logger *log.Logger
}

func (h debugHandler) Debug(v ...interface{}) {
	h.logger.Println(v...)
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(serveCmd), "")
	subcommands.Register(new(probeCmd), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
