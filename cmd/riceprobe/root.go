package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/nick-kraus/riceprobe-test/internal/config"
	"github.com/nick-kraus/riceprobe-test/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app carries the global flags and the resolved config into subcommands.
type app struct {
	configPath  string
	sim         bool
	metricsAddr string
	tclAddr     string

	cfg         config.Config
	stopMetrics context.CancelFunc
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "riceprobe",
		Short:         "Talks to a RICEProbe CMSIS-DAP adapter and its OpenOCD server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.stopMetrics != nil {
				a.stopMetrics()
			}
		},
	}
	root.CompletionOptions.HiddenDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (.toml, .yaml or .yml)")
	flags.BoolVar(&a.sim, "sim", false, "use the simulated adapter instead of USB")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")
	flags.StringVar(&a.tclAddr, "tcl-addr", "", "OpenOCD TCL address, overrides openocd.host and openocd.tcl_port")

	root.AddCommand(
		newInfoCmd(a),
		newIDCodeCmd(a),
		newTransferCmd(a),
		newTCLCmd(a),
		newRTTCmd(a),
		newOpenOCDCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	a.cfg = config.Default()
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.tclAddr != "" {
		host, port, err := net.SplitHostPort(a.tclAddr)
		if err != nil {
			return fmt.Errorf("--tcl-addr: %w", err)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("--tcl-addr: bad port %q", port)
		}
		a.cfg.OpenOCD.Host = host
		a.cfg.OpenOCD.TCLPort = n
	}
	if a.metricsAddr != "" {
		a.cfg.Metrics.Addr = a.metricsAddr
	}
	if a.cfg.Metrics.Addr != "" {
		a.startMetrics(cmd.Context())
	}
	return nil
}

func (a *app) startMetrics(parent context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	a.stopMetrics = cancel
	router := observability.NewRouter(a.cfg.Metrics.CorsOrigins, func() map[string]any {
		return map[string]any{"sim": a.sim}
	})
	addr := a.cfg.Metrics.Addr
	go func() {
		if err := observability.Serve(ctx, addr, router); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msgf("riceprobe metrics addr=%s", addr)
		}
	}()
}
