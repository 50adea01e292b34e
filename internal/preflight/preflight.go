package preflight

import (
	"context"

	"stagehand/internal/config"
	"stagehand/internal/remote"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config. The
// remote check is skipped when store is nil.
func RunAll(ctx context.Context, cfg *config.Config, store remote.Store) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Pipeline root", cfg.Paths.RootDir))
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	dirs := cfg.StageDirs()
	var missing []string
	for _, dir := range dirs {
		if r := CheckDirectoryAccess(dir.Name, dir.Path); !r.Passed {
			missing = append(missing, r.Detail)
		}
	}
	if len(missing) == 0 {
		results = append(results, Result{Name: "Stage directories", Passed: true, Detail: "all present and writable"})
	} else {
		for _, detail := range missing {
			results = append(results, Result{Name: "Stage directories", Detail: detail})
		}
	}
	results = append(results, CheckSameFilesystem("Atomic renames", dirs))

	if store != nil {
		results = append(results, CheckRemote(ctx, store))
	}

	if len(cfg.Registration.KafkaBrokers) > 0 {
		results = append(results, CheckKafka(ctx, cfg.Registration.KafkaBrokers))
	}

	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
