package config

import (
	"github.com/nick-kraus/riceprobe-test/internal/openocd"
	"github.com/nick-kraus/riceprobe-test/internal/probe"
)

// ChannelOptions returns the probe channel options for the probe section.
func (c Config) ChannelOptions() []probe.Option {
	return []probe.Option{
		probe.WithReadTimeout(c.Probe.ReadTimeout),
		probe.WithMaxPacketSize(c.Probe.MaxPacketSize),
		probe.WithDefaultMode(c.Probe.DefaultMode),
	}
}

// ServerConfig returns the OpenOCD launch settings.
func (c Config) ServerConfig() openocd.ServerConfig {
	sc := openocd.DefaultServerConfig()
	sc.Exec = c.OpenOCD.Exec
	sc.Host = c.OpenOCD.Host
	sc.TCLPort = c.OpenOCD.TCLPort
	sc.Commands = append([]string(nil), c.OpenOCD.Commands...)
	sc.Client = c.ClientConfig()
	return sc
}

func (c Config) ClientConfig() openocd.Config {
	cc := openocd.DefaultConfig()
	cc.Session.ReadTimeout = c.OpenOCD.ReadTimeout
	cc.Session.GraceDelay = c.OpenOCD.GraceDelay
	return cc
}

func (c Config) RTTConfig() openocd.RTTConfig {
	return openocd.RTTConfig{
		Address: c.RTT.Address,
		Size:    c.RTT.Size,
		Label:   c.RTT.Label,
		Port:    c.RTT.Port,
	}
}
