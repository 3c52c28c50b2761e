package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nick-kraus/riceprobe-test/internal/openocd"
	"github.com/spf13/cobra"
)

// connect dials a running server, or launches one first when launch is set.
func (a *app) connect(ctx context.Context, launch bool) (*openocd.Client, error) {
	if launch {
		return openocd.Launch(ctx, a.cfg.ServerConfig())
	}
	addr := net.JoinHostPort(a.cfg.OpenOCD.Host, strconv.Itoa(a.cfg.OpenOCD.TCLPort))
	return openocd.Dial(ctx, addr, a.cfg.ClientConfig())
}

func newTCLCmd(a *app) *cobra.Command {
	var launch bool
	cmd := &cobra.Command{
		Use:   "tcl COMMAND...",
		Short: "Send one command to the OpenOCD TCL socket and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.connect(ctx, launch)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Command(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&launch, "launch", false, "start openocd instead of dialing a running server")
	return cmd
}

func newRTTCmd(a *app) *cobra.Command {
	var (
		launch  bool
		send    string
		host    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "rtt",
		Short: "Start RTT and wait for the target prompt, optionally running one shell line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := a.connect(ctx, launch)
			if err != nil {
				return err
			}
			defer client.Close()

			rc := a.cfg.RTTConfig()
			rc.Host = host
			bridge, err := client.EnableRTT(ctx, rc)
			if err != nil {
				return err
			}
			prompt := a.cfg.RTT.Prompt
			out := cmd.OutOrStdout()
			if send == "" {
				m, err := bridge.ExpectPrompt(prompt, timeout)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s", m.Before)
				return nil
			}
			m, err := bridge.Command(send, prompt, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s", m.Before)
			fmt.Fprintf(cmd.ErrOrStderr(), "rtt: %s before prompt\n", humanize.Bytes(uint64(len(m.Before))))
			return nil
		},
	}
	cmd.Flags().BoolVar(&launch, "launch", false, "start openocd instead of dialing a running server")
	cmd.Flags().StringVar(&send, "send", "", "shell line to run on the target")
	cmd.Flags().StringVar(&host, "rtt-host", "", "RTT server host (default: the TCL host)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "prompt timeout")
	return cmd
}

func newOpenOCDCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "openocd",
		Short: "Inspect the OpenOCD installation",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the openocd version banner",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				v, err := openocd.ServerVersion(cmd.Context(), a.cfg.ServerConfig())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "args",
			Short: "Print the command line riceprobe launches openocd with",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				sc := a.cfg.ServerConfig()
				exec := sc.Exec
				if exec == "" {
					exec = "openocd"
				}
				fmt.Fprintln(cmd.OutOrStdout(), exec, strings.Join(quoteArgs(sc.Args()), " "))
				return nil
			},
		},
	)
	return cmd
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsAny(arg, " \t\"") {
			arg = strconv.Quote(arg)
		}
		out[i] = arg
	}
	return out
}
