package observer

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/zqzqsb/observer/ptracer"
	"github.com/zqzqsb/observer/wire"
)

// injector 抽象向目标注入一次系统调用的能力，测试以假实现替换
type injector interface {
	inject(nr uint64, args [6]uint64) (uint64, error)
}

// ptraceInjector 通过 ptracer 把调用注入真实目标
type ptraceInjector struct {
	pid int
}

func (p ptraceInjector) inject(nr uint64, args [6]uint64) (uint64, error) {
	return ptracer.InjectSyscall(p.pid, nr, args)
}

// applyMappings 把一批映射编辑施加到目标地址空间：
// 先按数组顺序逐个 unmap，再按数组顺序逐个 map，粒度为一页。
//
// 第一个无法施加的编辑终止整批操作，返回它的 1 基序号
// （unmap 计数在前）；之前已生效的编辑不回滚——在这一层
// 可靠地撤销任意映射变更本身就不安全，部分修改是契约内的
// 可观测结果，调用方必须按「已变更、未配置完」对待该目标。
//
// 计数之外的数组槽位从不被读取。
func applyMappings(inj injector, req *wire.ObserveRequest) (int, error) {
	pageSize := uint64(os.Getpagesize())

	for i := uint64(0); i < req.NumUnmaps; i++ {
		addr := req.Unmaps[i].Addr
		// 对未映射地址 munmap 是成功的无操作；
		// 非法地址（未对齐、超出地址空间形状）由内核报错
		if _, err := inj.inject(unix.SYS_MUNMAP, [6]uint64{addr, pageSize}); err != nil {
			return int(i) + 1, fmt.Errorf("observer: unmap %#x: %w", addr, err)
		}
	}

	for i := uint64(0); i < req.NumMaps; i++ {
		m := &req.Maps[i]
		args := [6]uint64{
			m.Addr,
			pageSize,
			uint64(protFlags(m.Prot)),
			// mappingFlags 对整批 map 统一生效，按不透明标志透传
			uint64(uint32(req.MappingFlags)),
			uint64(int64(m.Source)),
			0,
		}
		if _, err := inj.inject(unix.SYS_MMAP, args); err != nil {
			return int(req.NumUnmaps+i) + 1, fmt.Errorf("observer: map %#x source %d: %w", m.Addr, m.Source, err)
		}
	}
	return 0, nil
}

// protFlags 把协议保护位解码为 PROT_* 组合（位定义一致）
func protFlags(p uint8) int {
	return int(p & (wire.ProtRead | wire.ProtWrite | wire.ProtExec))
}
