package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stagehand/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <entry>",
		Short: "Show the journaled transitions of one entry",
		Long: "Show every journaled transition of one entry, oldest first. The entry is\n" +
			"named relative to its stage directory, for example batch/a.csv.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			transitions, err := j.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(transitions) == 0 {
				fmt.Fprintf(out, "No transitions recorded for %s\n", args[0])
				return nil
			}
			rows := make([][]string, 0, len(transitions))
			for _, t := range transitions {
				rows = append(rows, []string{
					t.At.Local().Format(time.DateTime),
					t.Stage,
					t.Outcome,
					strconv.FormatInt(t.Size, 10),
					t.Dest,
					t.Error,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"When", "Stage", "Outcome", "Bytes", "Destination", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}
