package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stagehand/internal/config"
	"stagehand/internal/daemonctl"
	"stagehand/internal/journal"
	"stagehand/internal/preflight"
	"stagehand/internal/remote"
	"stagehand/internal/stagefs"
)

const outcomeWindow = 24 * time.Hour

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var tickLimit int
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stage occupancy, preflight results, and recent ticks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			writeLines(out, renderSectionHeader("Daemon", colorize))
			writeLines(out, []string{daemonLine(cfg, colorize)})
			fmt.Fprintln(out)

			writeLines(out, renderSectionHeader("Stages", colorize))
			fmt.Fprintln(out, stageTable(cfg))
			fmt.Fprintln(out)

			if !skipChecks {
				writeLines(out, renderSectionHeader("Preflight", colorize))
				writeLines(out, preflightLines(runPreflight(cmd.Context(), cfg), colorize))
				fmt.Fprintln(out)
			}

			j, err := journal.Open(cfg)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			writeLines(out, renderSectionHeader(fmt.Sprintf("Outcomes (last %s)", outcomeWindow), colorize))
			counts, err := j.OutcomeCounts(cmd.Context(), time.Now().Add(-outcomeWindow))
			if err != nil {
				return fmt.Errorf("read outcomes: %w", err)
			}
			if len(counts) == 0 {
				fmt.Fprintln(out, statusIndent+"no transitions recorded")
			} else {
				fmt.Fprintln(out, outcomeTable(counts))
			}
			fmt.Fprintln(out)

			writeLines(out, renderSectionHeader("Recent ticks", colorize))
			ticks, err := j.RecentTicks(cmd.Context(), tickLimit)
			if err != nil {
				return fmt.Errorf("read ticks: %w", err)
			}
			if len(ticks) == 0 {
				fmt.Fprintln(out, statusIndent+"no ticks recorded")
				return nil
			}
			fmt.Fprintln(out, tickTable(ticks))
			return nil
		},
	}

	cmd.Flags().IntVarP(&tickLimit, "ticks", "n", 10, "Number of recent ticks to show")
	cmd.Flags().BoolVar(&skipChecks, "no-checks", false, "Skip preflight checks")
	return cmd
}

func writeLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

func daemonLine(cfg *config.Config, colorize bool) string {
	running, pid, err := daemonctl.Running(cfg)
	switch {
	case err != nil:
		return renderStatusLine("Stagehand", statusWarn, err.Error(), colorize)
	case !running:
		return renderStatusLine("Stagehand", statusError, "Not running", colorize)
	case pid > 0:
		return renderStatusLine("Stagehand", statusOK, fmt.Sprintf("Running (pid %d)", pid), colorize)
	default:
		return renderStatusLine("Stagehand", statusOK, "Running", colorize)
	}
}

func stageTable(cfg *config.Config) string {
	rows := make([][]string, 0, len(cfg.StageDirs()))
	for _, dir := range cfg.StageDirs() {
		count, size, err := stagefs.Count(dir.Path, true)
		if err != nil {
			rows = append(rows, []string{stageLabel(dir.Name), "?", "?", err.Error()})
			continue
		}
		rows = append(rows, []string{stageLabel(dir.Name), strconv.Itoa(count), formatBytes(size), dir.Path})
	}
	return renderTable(
		[]string{"Stage", "Entries", "Size", "Directory"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
	)
}

func outcomeTable(counts map[string]map[string]int) string {
	var rows [][]string
	for _, name := range config.Components {
		outcomes, ok := counts[name]
		if !ok {
			continue
		}
		keys := make([]string, 0, len(outcomes))
		for key := range outcomes {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			rows = append(rows, []string{name, key, strconv.Itoa(outcomes[key])})
		}
	}
	return renderTable(
		[]string{"Stage", "Outcome", "Entries"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	)
}

func tickTable(ticks []journal.Tick) string {
	rows := make([][]string, 0, len(ticks))
	for _, t := range ticks {
		rows = append(rows, []string{
			t.StartedAt.Local().Format(time.DateTime),
			t.Stage,
			strconv.Itoa(t.Scanned),
			strconv.Itoa(t.Moved),
			strconv.Itoa(t.Failed),
			t.Duration.Round(time.Millisecond).String(),
			t.Error,
		})
	}
	return renderTable(
		[]string{"Started", "Stage", "Scanned", "Moved", "Failed", "Duration", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func runPreflight(ctx context.Context, cfg *config.Config) []preflight.Result {
	store, err := remote.New(ctx, cfg)
	if err != nil {
		results := preflight.RunAll(ctx, cfg, nil)
		return append(results, preflight.Result{Name: "Remote store", Detail: err.Error()})
	}
	return preflight.RunAll(ctx, cfg, store)
}
