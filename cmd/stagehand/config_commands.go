package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stagehand/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Scaffold and check the pipeline configuration",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force, printOnly bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the annotated sample config",
		Long: `Write the annotated sample config to path, or to the default config
location when no path is given. The sample derives every stage directory from
paths.root_dir and uses the local remote store.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if printOnly {
				_, err := io.WriteString(out, config.Sample())
				return err
			}

			target, err := sampleTarget(args)
			if err != nil {
				return err
			}
			if !force {
				switch _, err := os.Lstat(target); {
				case err == nil:
					return fmt.Errorf("%s already exists; pass --force to replace it", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("inspect %s: %w", target, err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}

			fmt.Fprintf(out, "Created %s\n", target)
			fmt.Fprintln(out, "Next: set paths.root_dir and [remote], then run")
			fmt.Fprintf(out, "  stagehand --config %s config validate\n", target)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing file")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the sample to stdout instead of writing it")
	return cmd
}

func sampleTarget(args []string) (string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return config.DefaultConfigPath()
	}
	return config.ExpandPath(args[0])
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config and show the stage layout it resolves to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			source := ctx.configPath
			if !ctx.configSeen {
				source += " (not found, built-in defaults)"
			}
			components := "all"
			if len(cfg.Workflow.Components) > 0 {
				components = strings.Join(cfg.Workflow.Components, ", ")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config:      %s\n", source)
			fmt.Fprintf(out, "Root:        %s\n", cfg.Paths.RootDir)
			fmt.Fprintf(out, "Remote:      %s\n", cfg.Remote.Kind)
			fmt.Fprintf(out, "Components:  %s\n", components)

			dirs := cfg.StageDirs()
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				rows = append(rows, []string{stageLabel(dir.Name), dir.Path})
			}
			fmt.Fprintln(out, renderTable([]string{"Stage", "Directory"}, rows, nil))
			fmt.Fprintln(out, "Config OK")
			return nil
		},
	}
}
