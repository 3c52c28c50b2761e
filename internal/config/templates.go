package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a commented default config in the given format.
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config format: %s", format)
	}
}

func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `[probe]
vid = 0xFFFE
pid = 0xFFD1
interface = "Rice CMSIS-DAP v2"
# swd, jtag or default
default_mode = "default"
clock_hz = 1000000
read_timeout = "1s"
max_packet = 512
jtag_ir_lengths = [4, 5]

[openocd]
exec = ""
host = "127.0.0.1"
tcl_port = 6666
read_timeout = "1s"
grace = "100ms"
commands = [
  "source [find interface/cmsis-dap.cfg]",
  "cmsis_dap_vid_pid 0xFFFE 0xFFD1",
  "transport select jtag",
  "source [find target/stm32l4x.cfg]",
  "reset_config srst_only srst_nogate connect_assert_srst",
]

[rtt]
address = "0x20000000"
size = "0x10000"
label = "SEGGER RTT"
port = 7777
prompt = "target:~$ "

[metrics]
addr = ""
cors_origins = []
`

const yamlTemplate = `probe:
  vid: 0xFFFE
  pid: 0xFFD1
  interface: Rice CMSIS-DAP v2
  # swd, jtag or default
  default_mode: default
  clock_hz: 1000000
  read_timeout: 1s
  max_packet: 512
  jtag_ir_lengths: [4, 5]
openocd:
  exec: ""
  host: 127.0.0.1
  tcl_port: 6666
  read_timeout: 1s
  grace: 100ms
  commands:
    - source [find interface/cmsis-dap.cfg]
    - cmsis_dap_vid_pid 0xFFFE 0xFFD1
    - transport select jtag
    - source [find target/stm32l4x.cfg]
    - reset_config srst_only srst_nogate connect_assert_srst
rtt:
  address: "0x20000000"
  size: "0x10000"
  label: SEGGER RTT
  port: 7777
  prompt: "target:~$ "
metrics:
  addr: ""
  cors_origins: []
`
