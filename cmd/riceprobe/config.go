package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/nick-kraus/riceprobe-test/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check a riceprobe config file",
	}
	var (
		format    string
		overwrite bool
	)
	initCmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Write a default config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = formatFromPath(args[0])
			}
			if err := config.WriteTemplate(args[0], format, overwrite); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().StringVar(&format, "format", "", "toml or yaml (default from the file extension)")
	initCmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")

	validate := &cobra.Command{
		Use:   "validate [PATH]",
		Short: "Load and validate a config file (default: --config)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no config file given")
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok: probe %04x:%04x clock %s, openocd %s:%d\n",
				path, cfg.Probe.VID, cfg.Probe.PID,
				humanize.SIWithDigits(float64(cfg.Probe.ClockHz), 2, "Hz"),
				cfg.OpenOCD.Host, cfg.OpenOCD.TCLPort)
			return nil
		},
	}
	cmd.AddCommand(initCmd, validate)
	return cmd
}

func formatFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return "yaml"
	default:
		return "toml"
	}
}
