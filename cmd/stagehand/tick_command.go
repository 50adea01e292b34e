package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"stagehand/internal/config"
	"stagehand/internal/journal"
	"stagehand/internal/pipeline"
	"stagehand/internal/stage"
)

func newTickCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tick <stage>",
		Short: "Run exactly one tick of one stage",
		Long: "Run exactly one tick of one stage and print its counts.\n\n" +
			"The manifest interval timer starts with the process, so a manual manifest\n" +
			"tick only fires when manifest.count_threshold is reached.",
		ValidArgs: config.Components,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			name := strings.ToLower(strings.TrimSpace(args[0]))
			if !slices.Contains(config.Components, name) {
				return fmt.Errorf("unknown stage %q", name)
			}

			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire daemon lock: %w", err)
			}
			if !locked {
				return errors.New("the stagehand daemon is running; stop it before ticking a stage by hand")
			}
			defer func() { _ = lock.Unlock() }()

			logger, err := ctx.commandLogger(cfg)
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			scoped := *cfg
			scoped.Workflow.Components = []string{name}
			p, err := pipeline.Build(cmd.Context(), &scoped, pipeline.Deps{Logger: logger, Journal: j})
			if err != nil {
				return err
			}
			defer p.Close()

			tickErr := p.Manager.RunOnce(cmd.Context(), name)
			for _, lane := range p.Manager.Status(cmd.Context()).Lanes {
				if lane.Name == name {
					fmt.Fprintln(cmd.OutOrStdout(), formatTickStats(lane.LastStats))
				}
			}
			return tickErr
		},
	}
}

func formatTickStats(stats stage.Stats) string {
	line := fmt.Sprintf("%s: scanned %d, moved %d, stayed %d, skipped %d, failed %d (%s)",
		stats.Stage, stats.Scanned, stats.Moved, stats.Stayed, stats.Skipped, stats.Failed,
		stats.Duration.Round(time.Millisecond))
	if len(stats.Outcomes) == 0 {
		return line
	}
	keys := make([]string, 0, len(stats.Outcomes))
	for key := range stats.Outcomes {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", key, stats.Outcomes[key]))
	}
	return line + "\n  outcomes: " + strings.Join(parts, " ")
}
