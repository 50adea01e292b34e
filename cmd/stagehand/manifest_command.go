package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"stagehand/internal/config"
	"stagehand/internal/manifest"
)

func newManifestCommand(ctx *commandContext) *cobra.Command {
	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect manifest documents",
	}
	manifestCmd.AddCommand(newManifestShowCommand(ctx))
	return manifestCmd
}

func newManifestShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Print a manifest document",
		Long: "Print a manifest document. The path may be absolute, or relative to any\n" +
			"manifest stage directory (for example rejected/manifest_2026-01-02_030405_000000.json).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := resolveManifestPath(cfg, args[0])
			if err != nil {
				return err
			}
			doc, err := manifest.Read(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			writeManifest(out, cfg, path, doc)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw document as JSON")
	return cmd
}

func resolveManifestPath(cfg *config.Config, arg string) (string, error) {
	if filepath.IsAbs(arg) {
		return arg, nil
	}
	if _, err := os.Stat(arg); err == nil {
		return filepath.Abs(arg)
	}
	dirs := manifest.DirsFromConfig(cfg)
	roots := manifestRoots(dirs)
	if root, ok := dirs.Locate(arg, roots...); ok {
		return filepath.Join(root, filepath.FromSlash(arg)), nil
	}
	retired := filepath.ToSlash(filepath.Join(config.CompletedAggregate, arg))
	if root, ok := dirs.Locate(retired, dirs.Completed); ok {
		return filepath.Join(root, filepath.FromSlash(retired)), nil
	}
	return "", fmt.Errorf("manifest %s not found in any manifest stage", arg)
}

func manifestRoots(dirs manifest.Dirs) []string {
	return append(dirs.Pending(), dirs.Dropped, dirs.Failed, dirs.Completed)
}

func writeManifest(out io.Writer, cfg *config.Config, path string, doc manifest.Document) {
	fmt.Fprintf(out, "Path:     %s\n", path)
	fmt.Fprintf(out, "ID:       %s\n", doc.ID)
	fmt.Fprintf(out, "Kind:     %s\n", doc.Kind)
	if doc.Category != "" {
		fmt.Fprintf(out, "Category: %s\n", doc.Category)
	}
	fmt.Fprintf(out, "Created:  %s\n", doc.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if stage := stageOf(cfg, path); stage != "" {
		fmt.Fprintf(out, "Stage:    %s\n", stage)
	}

	switch doc.Kind {
	case manifest.KindBatch:
		fmt.Fprintf(out, "Files:    %d (%s)\n", len(doc.Files), formatBytes(doc.TotalBytes()))
		rows := make([][]string, 0, len(doc.Files))
		for _, f := range doc.Files {
			rows = append(rows, []string{f.Name, strconv.FormatInt(f.Size, 10)})
		}
		fmt.Fprintln(out, renderTable([]string{"Name", "Bytes"}, rows, []columnAlignment{alignLeft, alignRight}))
	case manifest.KindAggregate:
		dirs := manifest.DirsFromConfig(cfg)
		roots := manifestRoots(dirs)
		fmt.Fprintf(out, "Batches:  %d\n", len(doc.Manifests))
		rows := make([][]string, 0, len(doc.Manifests))
		for _, ref := range doc.Manifests {
			where := "missing"
			if root, ok := dirs.Locate(ref.Path, roots...); ok {
				where = root
			}
			rows = append(rows, []string{ref.Category, ref.Path, where})
		}
		fmt.Fprintln(out, renderTable([]string{"Category", "Path", "Location"}, rows, nil))
	}
}

// stageOf names the deepest stage directory containing path.
func stageOf(cfg *config.Config, path string) string {
	best, bestLen := "", 0
	for _, dir := range cfg.StageDirs() {
		rel, err := filepath.Rel(dir.Path, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if len(dir.Path) > bestLen {
			best, bestLen = dir.Name, len(dir.Path)
		}
	}
	return best
}
