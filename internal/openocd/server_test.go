package openocd

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/nick-kraus/riceprobe-test/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
)

func TestServerConfigArgs(t *testing.T) {
	cfg := DefaultServerConfig()
	args := cfg.Args()
	assert.Equal(t, []string{"-c", "tcl_port 6666"}, args[:2])
	assert.Equal(t, "cmsis_dap_vid_pid 0xFFFE 0xFFD1", args[5])
	assert.Len(t, args, 2+2*len(DefaultTargetCommands))
}

func TestLaunchMissingExecutable(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServerConfig()
	cfg.Exec = "riceprobe-no-such-openocd"
	_, err := Launch(context.Background(), cfg)
	if !errors.Is(err, ErrExecNotFound) {
		t.Fatalf("expected ErrExecNotFound, got %v", err)
	}
	if _, err := ServerVersion(context.Background(), cfg); !errors.Is(err, ErrExecNotFound) {
		t.Fatalf("expected ErrExecNotFound, got %v", err)
	}
}

func TestLaunchServerExitsEarly(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	cfg := DefaultServerConfig()
	cfg.Exec = "false"
	cfg.TCLPort = port
	cfg.Client.Session.ConnectTimeout = 3 * time.Second

	start := time.Now()
	_, err = Launch(context.Background(), cfg)
	if !errors.Is(err, ErrServerUnreachable) {
		t.Fatalf("expected ErrServerUnreachable, got %v", err)
	}
	assert.Less(t, time.Since(start), 10*time.Second, "port %s", strconv.Itoa(port))
}
