package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nick-kraus/riceprobe-test/internal/probe"
	"github.com/nick-kraus/riceprobe-test/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTemplatesLoadAsDefaults(t *testing.T) {
	testlog.Start(t)
	for _, format := range []string{"toml", "yaml"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "riceprobe."+format)
			require.NoError(t, WriteTemplate(path, format, false))
			cfg, err := Load(path)
			require.NoError(t, err)

			def := Default()
			assert.Equal(t, def.Probe, cfg.Probe)
			assert.Equal(t, def.OpenOCD, cfg.OpenOCD)
			assert.Equal(t, def.RTT, cfg.RTT)
			assert.Empty(t, cfg.Metrics.Addr)
			assert.Empty(t, cfg.Metrics.CorsOrigins)
		})
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "riceprobe.toml", "")
	require.Error(t, WriteTemplate(path, "toml", false))
	require.NoError(t, WriteTemplate(path, "toml", true))
	_, err := Template("ini")
	require.Error(t, err)
}

func TestLoadTOMLOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "probe.toml", `
[probe]
default_mode = "swd"
read_timeout_ms = 250
jtag_ir_lengths = [4]

[rtt]
address = "0x20001000"
port = 19021

[metrics]
addr = ":9090"
cors_origins = [" http://localhost:3000 ", ""]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, probe.ModeSWD, cfg.Probe.DefaultMode)
	assert.Equal(t, 250*time.Millisecond, cfg.Probe.ReadTimeout)
	assert.Equal(t, []uint8{4}, cfg.Probe.JTAGIRLengths)
	assert.Equal(t, uint16(0xFFFE), cfg.Probe.VID)
	assert.Equal(t, uint32(0x20001000), cfg.RTT.Address)
	assert.Equal(t, uint32(0x10000), cfg.RTT.Size)
	assert.Equal(t, 19021, cfg.RTT.Port)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Metrics.CorsOrigins)
	assert.Equal(t, 6666, cfg.OpenOCD.TCLPort)
}

func TestLoadYAML(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "probe.yml", `
probe:
  default_mode: jtag
  clock_hz: 4000000
openocd:
  tcl_port: 5555
  grace: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, probe.ModeJTAG, cfg.Probe.DefaultMode)
	assert.Equal(t, uint32(4_000_000), cfg.Probe.ClockHz)
	assert.Equal(t, 5555, cfg.OpenOCD.TCLPort)
	assert.Equal(t, 250*time.Millisecond, cfg.OpenOCD.GraceDelay)
	assert.Equal(t, time.Second, cfg.OpenOCD.ReadTimeout)
}

func TestLoadRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]struct {
		name, body, want string
	}{
		"unknown toml key": {"a.toml", "[probe]\nspeed = 3\n", "unknown key"},
		"unknown yaml key": {"a.yaml", "probe:\n  speed: 3\n", "speed"},
		"bad mode":         {"a.toml", "[probe]\ndefault_mode = \"spi\"\n", "default_mode"},
		"bad duration":     {"a.toml", "[openocd]\nread_timeout = \"soon\"\n", "openocd.read_timeout"},
		"bad address":      {"a.toml", "[rtt]\naddress = \"0xZZ\"\n", "rtt.address"},
		"vid range":        {"a.toml", "[probe]\nvid = 70000\n", "probe.vid"},
		"ir length":        {"a.toml", "[probe]\njtag_ir_lengths = [0]\n", "jtag_ir_lengths"},
		"port clash":       {"a.toml", "[rtt]\nport = 6666\n", "must differ"},
		"too many taps":    {"a.toml", "[probe]\njtag_ir_lengths = [4, 4, 4, 4, 4]\n", "at most 4"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.name, tc.body))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want), "error %q does not mention %q", err, tc.want)
		})
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestConversions(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.OpenOCD.Exec = "/opt/openocd/bin/openocd"
	cfg.OpenOCD.ReadTimeout = 3 * time.Second

	sc := cfg.ServerConfig()
	assert.Equal(t, "/opt/openocd/bin/openocd", sc.Exec)
	assert.Equal(t, 6666, sc.TCLPort)
	assert.Equal(t, 3*time.Second, sc.Client.Session.ReadTimeout)
	assert.Equal(t, 100*time.Millisecond, sc.Client.Session.GraceDelay)

	rc := cfg.RTTConfig()
	assert.Equal(t, uint32(0x20000000), rc.Address)
	assert.Equal(t, "SEGGER RTT", rc.Label)
	assert.Len(t, cfg.ChannelOptions(), 3)
}
