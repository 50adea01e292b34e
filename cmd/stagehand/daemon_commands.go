package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stagehand/internal/config"
	"stagehand/internal/daemonctl"
	"stagehand/internal/logs"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:       "start [component...]",
		Short:     "Start the pipeline daemon in the background",
		ValidArgs: append([]string{config.ComponentAll}, config.Components...),
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			opts := daemonctl.LaunchOptions{Components: args}
			if ctx.configSeen {
				opts.ConfigPath = ctx.configPath
			}
			res, err := daemonctl.EnsureStarted(cfg, exe, opts, wait)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch res.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(out, "Daemon already running (pid %d)\n", res.PID)
			default:
				fmt.Fprintf(out, "Daemon started (pid %d)\n", res.PID)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the daemon to take its lock")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background pipeline daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			res, err := daemonctl.Stop(cfg, grace)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case !res.WasRunning:
				fmt.Fprintln(out, "Daemon is not running")
			case res.ForcedKill:
				fmt.Fprintf(out, "Daemon (pid %d) did not stop within %s and was killed\n", res.PID, grace)
			default:
				fmt.Fprintf(out, "Daemon (pid %d) stopped\n", res.PID)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", 30*time.Second, "How long to wait for in-flight ticks before killing the daemon")
	return cmd
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var stageFilter string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "stagehand.log")
			var match logs.Matcher
			if stage := strings.TrimSpace(stageFilter); stage != "" {
				match = func(line string) bool { return strings.Contains(line, stage) }
			}

			tail, offset, err := logs.Last(path, lines, match)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			followCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(followCtx, path, offset, 250*time.Millisecond, match, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&stageFilter, "stage", "", "Only show lines mentioning this stage")
	return cmd
}
