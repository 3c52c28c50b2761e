package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/nick-kraus/riceprobe-test/internal/openocd"
	"github.com/nick-kraus/riceprobe-test/internal/probe"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Probe   ProbeConfig
	OpenOCD OpenOCDConfig
	RTT     RTTConfig
	Metrics MetricsConfig
}

type ProbeConfig struct {
	VID           uint16
	PID           uint16
	Interface     string
	DefaultMode   probe.Mode
	ClockHz       uint32
	ReadTimeout   time.Duration
	MaxPacketSize int
	JTAGIRLengths []uint8
}

type OpenOCDConfig struct {
	Exec        string
	Host        string
	TCLPort     int
	ReadTimeout time.Duration
	GraceDelay  time.Duration
	Commands    []string
}

type RTTConfig struct {
	Address uint32
	Size    uint32
	Label   string
	Port    int
	Prompt  string
}

type MetricsConfig struct {
	Addr        string
	CorsOrigins []string
}

func Default() Config {
	return Config{
		Probe: ProbeConfig{
			VID:           0xFFFE,
			PID:           0xFFD1,
			Interface:     "Rice CMSIS-DAP v2",
			DefaultMode:   probe.ModeDisconnected,
			ClockHz:       1_000_000,
			ReadTimeout:   time.Second,
			MaxPacketSize: 512,
			JTAGIRLengths: []uint8{4, 5},
		},
		OpenOCD: OpenOCDConfig{
			Host:        "127.0.0.1",
			TCLPort:     6666,
			ReadTimeout: time.Second,
			GraceDelay:  100 * time.Millisecond,
			Commands:    append([]string(nil), openocd.DefaultTargetCommands...),
		},
		RTT: RTTConfig{
			Address: 0x20000000,
			Size:    0x10000,
			Label:   "SEGGER RTT",
			Port:    7777,
			Prompt:  "target:~$ ",
		},
		Metrics: MetricsConfig{},
	}
}

// fileConfig is the on-disk layout shared by the TOML and YAML forms.
type fileConfig struct {
	Probe struct {
		VID           int64   `toml:"vid" yaml:"vid"`
		PID           int64   `toml:"pid" yaml:"pid"`
		Interface     string  `toml:"interface" yaml:"interface"`
		DefaultMode   string  `toml:"default_mode" yaml:"default_mode"`
		ClockHz       int64   `toml:"clock_hz" yaml:"clock_hz"`
		ReadTimeout   string  `toml:"read_timeout" yaml:"read_timeout"`
		ReadTimeoutMS int64   `toml:"read_timeout_ms" yaml:"read_timeout_ms"`
		MaxPacket     int     `toml:"max_packet" yaml:"max_packet"`
		JTAGIRLengths []int64 `toml:"jtag_ir_lengths" yaml:"jtag_ir_lengths"`
	} `toml:"probe" yaml:"probe"`
	OpenOCD struct {
		Exec        string   `toml:"exec" yaml:"exec"`
		Host        string   `toml:"host" yaml:"host"`
		TCLPort     int      `toml:"tcl_port" yaml:"tcl_port"`
		ReadTimeout string   `toml:"read_timeout" yaml:"read_timeout"`
		Grace       string   `toml:"grace" yaml:"grace"`
		Commands    []string `toml:"commands" yaml:"commands"`
	} `toml:"openocd" yaml:"openocd"`
	RTT struct {
		Address string `toml:"address" yaml:"address"`
		Size    string `toml:"size" yaml:"size"`
		Label   string `toml:"label" yaml:"label"`
		Port    int    `toml:"port" yaml:"port"`
		Prompt  string `toml:"prompt" yaml:"prompt"`
	} `toml:"rtt" yaml:"rtt"`
	Metrics struct {
		Addr        string   `toml:"addr" yaml:"addr"`
		CorsOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	} `toml:"metrics" yaml:"metrics"`
}

// definedFunc reports whether a dotted key path was present in the file.
type definedFunc func(key ...string) bool

// Load reads a TOML file, or YAML when the extension is .yaml or .yml, and
// applies the keys it defines over Default.
func Load(path string) (Config, error) {
	var (
		raw     fileConfig
		defined definedFunc
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		defined, err = decodeYAML(path, &raw)
	default:
		defined, err = decodeTOML(path, &raw)
	}
	if err != nil {
		return Config{}, err
	}
	cfg, err := apply(Default(), &raw, defined)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func decodeTOML(path string, raw *fileConfig) (definedFunc, error) {
	meta, err := toml.DecodeFile(path, raw)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config load failed (%s): unknown key %q", path, undecoded[0].String())
	}
	return meta.IsDefined, nil
}

func decodeYAML(path string, raw *fileConfig) (definedFunc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	var keys map[string]map[string]any
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return func(key ...string) bool {
		if len(key) != 2 {
			return false
		}
		section, ok := keys[key[0]]
		if !ok {
			return false
		}
		_, ok = section[key[1]]
		return ok
	}, nil
}

func apply(cfg Config, raw *fileConfig, defined definedFunc) (Config, error) {
	var err error
	p := &raw.Probe
	if defined("probe", "vid") {
		if cfg.Probe.VID, err = u16("probe.vid", p.VID); err != nil {
			return cfg, err
		}
	}
	if defined("probe", "pid") {
		if cfg.Probe.PID, err = u16("probe.pid", p.PID); err != nil {
			return cfg, err
		}
	}
	if defined("probe", "interface") {
		cfg.Probe.Interface = strings.TrimSpace(p.Interface)
	}
	if defined("probe", "default_mode") {
		if cfg.Probe.DefaultMode, err = probe.ParseMode(strings.TrimSpace(p.DefaultMode)); err != nil {
			return cfg, fmt.Errorf("probe.default_mode: %w", err)
		}
	}
	if defined("probe", "clock_hz") {
		if p.ClockHz <= 0 || p.ClockHz > 0xFFFFFFFF {
			return cfg, fmt.Errorf("probe.clock_hz out of range: %d", p.ClockHz)
		}
		cfg.Probe.ClockHz = uint32(p.ClockHz)
	}
	if defined("probe", "read_timeout") {
		if cfg.Probe.ReadTimeout, err = duration("probe.read_timeout", p.ReadTimeout); err != nil {
			return cfg, err
		}
	}
	if defined("probe", "read_timeout_ms") {
		cfg.Probe.ReadTimeout = time.Duration(p.ReadTimeoutMS) * time.Millisecond
	}
	if defined("probe", "max_packet") {
		cfg.Probe.MaxPacketSize = p.MaxPacket
	}
	if defined("probe", "jtag_ir_lengths") {
		cfg.Probe.JTAGIRLengths = cfg.Probe.JTAGIRLengths[:0:0]
		for _, l := range p.JTAGIRLengths {
			if l <= 0 || l > 32 {
				return cfg, fmt.Errorf("probe.jtag_ir_lengths: invalid length %d", l)
			}
			cfg.Probe.JTAGIRLengths = append(cfg.Probe.JTAGIRLengths, uint8(l))
		}
	}

	o := &raw.OpenOCD
	if defined("openocd", "exec") {
		cfg.OpenOCD.Exec = strings.TrimSpace(o.Exec)
	}
	if defined("openocd", "host") {
		cfg.OpenOCD.Host = strings.TrimSpace(o.Host)
	}
	if defined("openocd", "tcl_port") {
		cfg.OpenOCD.TCLPort = o.TCLPort
	}
	if defined("openocd", "read_timeout") {
		if cfg.OpenOCD.ReadTimeout, err = duration("openocd.read_timeout", o.ReadTimeout); err != nil {
			return cfg, err
		}
	}
	if defined("openocd", "grace") {
		if cfg.OpenOCD.GraceDelay, err = duration("openocd.grace", o.Grace); err != nil {
			return cfg, err
		}
	}
	if defined("openocd", "commands") {
		cfg.OpenOCD.Commands = normalize(o.Commands)
	}

	r := &raw.RTT
	if defined("rtt", "address") {
		if cfg.RTT.Address, err = u32("rtt.address", r.Address); err != nil {
			return cfg, err
		}
	}
	if defined("rtt", "size") {
		if cfg.RTT.Size, err = u32("rtt.size", r.Size); err != nil {
			return cfg, err
		}
	}
	if defined("rtt", "label") {
		cfg.RTT.Label = r.Label
	}
	if defined("rtt", "port") {
		cfg.RTT.Port = r.Port
	}
	if defined("rtt", "prompt") {
		cfg.RTT.Prompt = r.Prompt
	}

	if defined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}
	if defined("metrics", "cors_origins") {
		cfg.Metrics.CorsOrigins = normalize(raw.Metrics.CorsOrigins)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.Probe.VID == 0 || cfg.Probe.PID == 0 {
		return fmt.Errorf("probe vid and pid are required")
	}
	if cfg.Probe.ClockHz == 0 {
		return fmt.Errorf("probe clock_hz must be positive")
	}
	if cfg.Probe.ReadTimeout <= 0 {
		return fmt.Errorf("probe read_timeout must be positive")
	}
	if cfg.Probe.MaxPacketSize < 64 {
		return fmt.Errorf("probe max_packet must be at least 64, got %d", cfg.Probe.MaxPacketSize)
	}
	if len(cfg.Probe.JTAGIRLengths) > 4 {
		return fmt.Errorf("probe jtag_ir_lengths supports at most 4 devices, got %d", len(cfg.Probe.JTAGIRLengths))
	}
	if err := validPort("openocd tcl_port", cfg.OpenOCD.TCLPort); err != nil {
		return err
	}
	if err := validPort("rtt port", cfg.RTT.Port); err != nil {
		return err
	}
	if cfg.OpenOCD.TCLPort == cfg.RTT.Port {
		return fmt.Errorf("openocd tcl_port and rtt port must differ")
	}
	if strings.TrimSpace(cfg.OpenOCD.Host) == "" {
		return fmt.Errorf("openocd host is required")
	}
	if cfg.OpenOCD.ReadTimeout <= 0 {
		return fmt.Errorf("openocd read_timeout must be positive")
	}
	if cfg.OpenOCD.GraceDelay < 0 {
		return fmt.Errorf("openocd grace must not be negative")
	}
	if cfg.RTT.Size == 0 {
		return fmt.Errorf("rtt size must be positive")
	}
	if cfg.RTT.Label == "" || strings.ContainsRune(cfg.RTT.Label, '"') {
		return fmt.Errorf("rtt label must be non-empty and unquoted")
	}
	if cfg.RTT.Prompt == "" {
		return fmt.Errorf("rtt prompt is required")
	}
	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}

func duration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func u16(key string, v int64) (uint16, error) {
	if v < 0 || v > 0xFFFF {
		return 0, fmt.Errorf("%s out of range: %d", key, v)
	}
	return uint16(v), nil
}

// u32 accepts decimal or 0x-prefixed values.
func u32(key, s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return uint32(v), nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}
