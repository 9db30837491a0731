package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zqzqsb/observer/pkg/rlimit"
	"github.com/zqzqsb/observer/server"
)

// fileConfig 是 YAML 配置文件的布局，所有字段可选
type fileConfig struct {
	Socket      string   `yaml:"socket"`
	Confine     bool     `yaml:"confine"`
	Allow       []string `yaml:"allow"`
	OutputLimit int64    `yaml:"output_limit"`
	RLimits     struct {
		CPU          uint64 `yaml:"cpu"`
		CPUHard      uint64 `yaml:"cpu_hard"`
		Data         uint64 `yaml:"data"`
		Stack        uint64 `yaml:"stack"`
		AddressSpace uint64 `yaml:"address_space"`
		OpenFile     uint64 `yaml:"open_file"`
		DisableCore  bool   `yaml:"disable_core"`
	} `yaml:"rlimits"`
}

// loadConfig 读取配置文件并翻译为服务策略。
// path 为空时返回零值策略，socket 位置由命令行决定。
func loadConfig(path string) (server.Config, string, error) {
	var conf server.Config
	if path == "" {
		return conf, "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return conf, "", fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return conf, "", fmt.Errorf("parse config %s: %w", path, err)
	}

	conf.Confine = fc.Confine
	conf.Allow = fc.Allow
	conf.OutputLimit = fc.OutputLimit
	conf.RLimits = rlimit.RLimits{
		CPU:          fc.RLimits.CPU,
		CPUHard:      fc.RLimits.CPUHard,
		Data:         fc.RLimits.Data,
		Stack:        fc.RLimits.Stack,
		AddressSpace: fc.RLimits.AddressSpace,
		OpenFile:     fc.RLimits.OpenFile,
		DisableCore:  fc.RLimits.DisableCore,
	}
	return conf, fc.Socket, nil
}
