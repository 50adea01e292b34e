package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stagehand/internal/config"
	"stagehand/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var development bool

	cmd := &cobra.Command{
		Use:   "run [component...]",
		Short: "Run the pipeline daemon in the foreground",
		Long: "Run the pipeline daemon in the foreground until interrupted.\n\n" +
			"With no arguments every component in workflow.components runs. Name\n" +
			"components to run only those: " + strings.Join(config.Components, ", ") + ".",
		ValidArgs: append([]string{config.ComponentAll}, config.Components...),
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			components := make([]string, 0, len(args))
			for _, arg := range args {
				components = append(components, strings.ToLower(strings.TrimSpace(arg)))
			}
			if err := daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
				Components:  components,
			}); err != nil {
				return fmt.Errorf("run daemon: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log lines")
	return cmd
}
