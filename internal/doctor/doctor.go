// Package doctor runs preflight checks before a long search run.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jobx-market/internal/checkpoint"
	"jobx-market/internal/config"
	"jobx-market/internal/runstore"
	"jobx-market/internal/search"
)

type Options struct {
	ConfigPath string
	OutputDir  string
	// ScraperCommand overrides the command named in the configuration.
	ScraperCommand string
}

type Result struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks"`
}

type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func Run(opts Options) Result {
	checks := make([]Check, 0, 5)

	var cfg *config.Config
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			checks = append(checks, Check{Name: "config", OK: false, Message: err.Error()})
		} else {
			cfg = loaded
			msg := fmt.Sprintf("%d roles, %d centers", len(cfg.Roles), cfg.TotalLocations())
			if w := cfg.Warnings(); len(w) > 0 {
				msg += fmt.Sprintf(", %d warnings", len(w))
			}
			if cfg.IsLegacy() {
				msg += ", legacy format (run migrate-config)"
			}
			checks = append(checks, Check{Name: "config", OK: true, Message: msg})
		}
	}

	command := strings.TrimSpace(opts.ScraperCommand)
	if command == "" && cfg != nil {
		command = cfg.Search.ScraperCommand
	}
	dep := (&search.ExecSearcher{Command: command}).DependencyStatus()
	checks = append(checks, Check{
		Name:    "dependency:" + dep.Command,
		OK:      dep.ScraperFound,
		Message: dependencyMessage(dep.ScraperFound, dep.ScraperPath, dep.Command),
	})

	if dir := strings.TrimSpace(opts.OutputDir); dir != "" {
		ok, msg := ensureWritableDir(dir)
		checks = append(checks, Check{Name: "directory:output", OK: ok, Message: msg})
		checks = append(checks, checkpointCheck(dir))
		checks = append(checks, lockCheck(dir))
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return Result{OK: ok, Checks: checks}
}

func checkpointCheck(dir string) Check {
	if !runstore.Exists(checkpoint.Path(dir)) {
		return Check{Name: "checkpoint", OK: true, Message: "no checkpoint yet"}
	}
	store, err := checkpoint.Open(dir)
	if err != nil {
		return Check{Name: "checkpoint", OK: false, Message: err.Error()}
	}
	p := store.ProgressSummary()
	return Check{
		Name:    "checkpoint",
		OK:      true,
		Message: fmt.Sprintf("%d/%d completed, %d failed, %d remaining", p.Completed, p.Total, p.Failed, p.Remaining),
	}
}

func lockCheck(dir string) Check {
	owner, held := runstore.ReadLockOwner(dir)
	if held {
		return Check{Name: "lock", OK: false, Message: fmt.Sprintf("held by %s (use reset --break-lock if that run is gone)", owner)}
	}
	return Check{Name: "lock", OK: true, Message: "free"}
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func ensureWritableDir(path string) (bool, string) {
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "jobx-market-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable: " + filepath.Clean(path)
}
