package openocd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nick-kraus/riceprobe-test/internal/protocol/session"
	"github.com/nick-kraus/riceprobe-test/internal/tools"
	"github.com/rs/zerolog/log"
)

// DefaultTargetCommands select the RICEProbe CMSIS-DAP interface over JTAG
// against an STM32L4R5 with hardware reset.
var DefaultTargetCommands = []string{
	"source [find interface/cmsis-dap.cfg]",
	"cmsis_dap_vid_pid 0xFFFE 0xFFD1",
	"transport select jtag",
	"source [find target/stm32l4x.cfg]",
	"reset_config srst_only srst_nogate connect_assert_srst",
}

type ServerConfig struct {
	// Exec is the server binary; empty searches PATH for "openocd".
	Exec     string
	Host     string
	TCLPort  int
	Commands []string
	Client   Config
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:     "127.0.0.1",
		TCLPort:  6666,
		Commands: DefaultTargetCommands,
		Client:   DefaultConfig(),
	}
}

// Args returns the command line passed to the server binary.
func (c ServerConfig) Args() []string {
	args := []string{"-c", fmt.Sprintf("tcl_port %d", c.TCLPort)}
	for _, cmd := range c.Commands {
		args = append(args, "-c", cmd)
	}
	return args
}

func (c ServerConfig) resolveExec() (string, error) {
	name := c.Exec
	if name == "" {
		name = "openocd"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrExecNotFound, name, err)
	}
	return path, nil
}

// ServerVersion returns the first line the server binary prints for
// --version.
func ServerVersion(ctx context.Context, cfg ServerConfig) (string, error) {
	path, err := cfg.resolveExec()
	if err != nil {
		return "", err
	}
	res, err := tools.ExecRunner{}.Run(ctx, path, "--version")
	if err != nil {
		return "", fmt.Errorf("openocd: %s --version exit=%d: %w", path, res.ExitCode, err)
	}
	// openocd prints its banner on stderr
	out := strings.TrimSpace(string(res.Stderr))
	if out == "" {
		out = strings.TrimSpace(string(res.Stdout))
	}
	line, _, _ := strings.Cut(out, "\n")
	return line, nil
}

// Launch starts a server process and connects to its TCL port, retrying
// with backoff until the port accepts or the connect timeout elapses. The
// returned client terminates the process on Close.
func Launch(ctx context.Context, cfg ServerConfig) (*Client, error) {
	path, err := cfg.resolveExec()
	if err != nil {
		return nil, err
	}
	cfg.Client.Session = cfg.Client.Session.WithDefaults()
	proc, err := tools.ExecRunner{}.Start(path, cfg.Args()...)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCLPort))
	client, err := connectWithRetry(ctx, addr, cfg.Client, proc)
	if err != nil {
		tctx, cancel := context.WithTimeout(context.Background(), tools.DefaultTerminateGrace*2)
		defer cancel()
		if terr := proc.Terminate(tctx); terr != nil {
			log.Warn().Err(terr).Msg("openocd.Launch terminate")
		}
		return nil, err
	}
	client.setProcess(proc)
	log.Info().Msgf("openocd.Launch pid=%d addr=%s", proc.Pid(), addr)
	return client, nil
}

func connectWithRetry(ctx context.Context, addr string, cfg Config, proc *tools.Process) (*Client, error) {
	deadline := time.Now().Add(cfg.Session.ConnectTimeout)
	for attempt := 1; ; attempt++ {
		client, err := Dial(ctx, addr, cfg)
		if err == nil {
			return client, nil
		}
		if proc.Exited() {
			return nil, fmt.Errorf("%w: server exited: %w", ErrServerUnreachable, errors.Join(proc.Err(), err))
		}
		if !time.Now().Before(deadline) {
			return nil, err
		}
		log.Debug().Err(err).Msgf("openocd.Launch dial attempt=%d", attempt)
		if err := session.Sleep(ctx, cfg.Session.Backoff, attempt, nil); err != nil {
			return nil, err
		}
	}
}
