//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"rootprep/internal/prepare"
	"rootprep/pkg/utils/logger"
)

// AppConfig is the optional yaml configuration. Every field has a
// working default, so the tool also runs argument-only.
type AppConfig struct {
	Logger  logger.Config `yaml:"logger"`
	Prepare PrepareConfig `yaml:"prepare"`
}

// PrepareConfig overrides the host source paths consulted during
// preparation.
type PrepareConfig struct {
	MachineIDPath   string   `yaml:"machineIDPath"`
	UIDMapPath      string   `yaml:"uidMapPath"`
	CgroupFSPath    string   `yaml:"cgroupFSPath"`
	ResolvConfPath  string   `yaml:"resolvConfPath"`
	DeviceAllowList []string `yaml:"deviceAllowList"`
}

func (c PrepareConfig) toPrepareConfig() prepare.Config {
	return prepare.Config{
		MachineIDPath:   c.MachineIDPath,
		UIDMapPath:      c.UIDMapPath,
		CgroupFSPath:    c.CgroupFSPath,
		ResolvConfPath:  c.ResolvConfPath,
		DeviceAllowList: c.DeviceAllowList,
	}
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return &cfg, nil
}
