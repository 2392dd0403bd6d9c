package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"jobx-market/internal/checkpoint"
	"jobx-market/internal/config"
	"jobx-market/internal/doctor"
	"jobx-market/internal/history"
	"jobx-market/internal/runstore"
	"jobx-market/internal/safety"
	"jobx-market/internal/summary"
)

// outputDirArg resolves the output directory from -o, the first positional
// argument, or the newest *_Analysis directory under the working directory.
func outputDirArg(flagValue string, positional []string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}
	if len(positional) > 0 {
		return strings.TrimSpace(positional[0]), nil
	}
	dir, err := runstore.LatestRunDir(".", "_Analysis")
	if err != nil {
		return "", fmt.Errorf("%w (pass -o <output-dir>)", err)
	}
	return dir, nil
}

type statusReport struct {
	OutputDir   string              `json:"output_dir"`
	Checkpoint  checkpoint.Progress `json:"checkpoint"`
	RuntimeMin  float64             `json:"total_runtime_minutes"`
	LastSearch  string              `json:"last_search_time,omitempty"`
	Failed      map[string]string   `json:"failed_tasks"`
	LastSummary *summary.RunSummary `json:"last_summary,omitempty"`
	Lock        string              `json:"lock"`
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	output := fs.String("o", "", "output directory (default: newest *_Analysis directory)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	dir, err := outputDirArg(*output, positional)
	if err != nil {
		return err
	}
	if !runstore.Exists(checkpoint.Path(dir)) {
		return fmt.Errorf("no checkpoint in %s", dir)
	}

	store, err := checkpoint.Open(dir)
	if err != nil {
		return err
	}
	snap := store.Snapshot()
	rep := statusReport{
		OutputDir:  dir,
		Checkpoint: store.ProgressSummary(),
		RuntimeMin: snap.TotalRuntimeMinutes,
		LastSearch: snap.LastSearchTime,
		Failed:     map[string]string{},
		Lock:       "free",
	}
	for key, f := range snap.FailedTasks {
		rep.Failed[key] = f.Error
	}
	if s, err := summary.Read(summary.Path(dir)); err == nil {
		rep.LastSummary = &s
	}
	if owner, held := runstore.ReadLockOwner(dir); held {
		rep.Lock = "held by " + owner.String()
	}

	if *jsonOut {
		return printJSON(rep)
	}
	p := rep.Checkpoint
	fmt.Printf("output_dir: %s\n", rep.OutputDir)
	fmt.Printf("progress: %d/%d completed, %d failed, %d remaining\n", p.Completed, p.Total, p.Failed, p.Remaining)
	fmt.Printf("runtime: %.1f minutes\n", rep.RuntimeMin)
	if rep.LastSearch != "" {
		fmt.Printf("last_search: %s\n", rep.LastSearch)
	}
	fmt.Printf("lock: %s\n", rep.Lock)
	if len(rep.Failed) > 0 {
		fmt.Println("failed tasks:")
		for _, key := range sortedKeys(rep.Failed) {
			fmt.Printf("  %s: %s\n", key, rep.Failed[key])
		}
	}
	if s := rep.LastSummary; s != nil {
		fmt.Printf("last run: %s (%s, %s)\n", s.RunID, s.ExitStatus, s.DurationHuman)
		fmt.Printf("recommendation: %s\n", s.Recommendation)
	}
	if p.Remaining > 0 || p.Failed > 0 {
		fmt.Printf("next: jobx-market run <config> --resume -o %s\n", dir)
	}
	return nil
}

func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	output := fs.String("o", "", "output directory")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	breakLock := fs.Bool("break-lock", false, "also remove a stale run lock")
	fs.SetOutput(flag.CommandLine.Output())
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	dir := strings.TrimSpace(*output)
	if dir == "" && len(positional) > 0 {
		dir = strings.TrimSpace(positional[0])
	}
	if dir == "" {
		fs.Usage()
		return errors.New("output directory is required (reset never guesses)")
	}

	if *breakLock {
		if err := runstore.BreakRunLock(dir); err != nil {
			return err
		}
		fmt.Printf("lock removed: %s\n", dir)
	}
	if !runstore.Exists(checkpoint.Path(dir)) {
		fmt.Printf("no checkpoint in %s\n", dir)
		return nil
	}

	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("clear the checkpoint in %s? [y/N]: ", dir))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("reset cancelled")
			return nil
		}
	}

	lock, err := runstore.AcquireRunLock(dir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	store, err := checkpoint.Open(dir)
	if err != nil {
		return err
	}
	if err := store.Reset(); err != nil {
		return err
	}
	fmt.Printf("checkpoint cleared: %s\n", store.FilePath())
	return nil
}

type validateReport struct {
	Config   string   `json:"config"`
	Valid    bool     `json:"valid"`
	Legacy   bool     `json:"legacy"`
	Roles    []string `json:"roles"`
	Regions  int      `json:"regions"`
	Markets  int      `json:"markets"`
	Centers  int      `json:"centers"`
	Warnings []string `json:"warnings"`
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	cfgFlag := fs.String("config", "", "configuration file")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	path, err := configArg(positional, *cfgFlag)
	if err != nil {
		fs.Usage()
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	rep := validateReport{
		Config:   path,
		Valid:    true,
		Legacy:   cfg.IsLegacy(),
		Roles:    cfg.RoleIDs(),
		Regions:  len(cfg.Regions),
		Markets:  len(cfg.AllMarkets()),
		Centers:  cfg.TotalLocations(),
		Warnings: cfg.Warnings(),
	}
	if rep.Warnings == nil {
		rep.Warnings = []string{}
	}
	if *jsonOut {
		return printJSON(rep)
	}
	fmt.Printf("config: %s\n", rep.Config)
	fmt.Println("roles:")
	for _, r := range cfg.Roles {
		fmt.Printf("  - %s: %s (%s)\n", r.ID, r.Name, r.PayType)
	}
	fmt.Printf("regions: %d\n", rep.Regions)
	fmt.Printf("markets: %d\n", rep.Markets)
	fmt.Printf("centers: %d\n", rep.Centers)
	fmt.Printf("search: radius %d mi, %d results per location, batch size %d, max retries %d\n",
		cfg.Search.RadiusMiles, cfg.Search.ResultsPerLocation, cfg.Search.BatchSize, cfg.Search.MaxRetries)
	if len(rep.Warnings) > 0 {
		fmt.Println("warnings:")
		for _, w := range rep.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
	if rep.Legacy {
		fmt.Printf("next: jobx-market migrate-config %s <new.yaml>\n", path)
	}
	fmt.Println("configuration is valid")
	return nil
}

func runMigrateConfig(args []string) error {
	fs := flag.NewFlagSet("migrate-config", flag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite the destination file")
	fs.SetOutput(flag.CommandLine.Output())
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 2 {
		fs.Usage()
		return errors.New("usage: jobx-market migrate-config <old.yaml> <new.yaml>")
	}
	oldPath, newPath := positional[0], positional[1]
	if runstore.Exists(newPath) && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", newPath)
	}

	cfg, err := config.Migrate(oldPath, newPath)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Printf("migrated %s -> %s (%d roles, %d centers)\n", oldPath, newPath, len(cfg.Roles), cfg.TotalLocations())
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	dbPath := fs.String("history-db", history.DefaultPath, "sqlite run ledger path")
	limit := fs.Int("limit", 20, "number of runs to list")
	runID := fs.String("run", "", "list the failed tasks of one run")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !runstore.Exists(*dbPath) {
		return fmt.Errorf("no run history at %s", *dbPath)
	}

	ledger, err := history.Open(*dbPath)
	if err != nil {
		return err
	}
	defer ledger.Close()
	ctx := context.Background()

	if id := strings.TrimSpace(*runID); id != "" {
		failed, err := ledger.FailedTasks(ctx, id)
		if err != nil {
			return err
		}
		if *jsonOut {
			return printJSON(failed)
		}
		if len(failed) == 0 {
			fmt.Printf("run %s has no failed tasks\n", id)
			return nil
		}
		for _, key := range sortedKeys(failed) {
			fmt.Printf("%s: %s\n", key, failed[key])
		}
		return nil
	}

	runs, err := ledger.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	if *jsonOut {
		if runs == nil {
			runs = []history.Run{}
		}
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  %-11s  %d/%d ok  %d jobs  %s  %s\n",
			r.StartedAt, r.RunID, r.ExitStatus, r.TasksSuccessful, r.TasksTotal, r.JobsTotal,
			summary.FormatDuration(r.DurationSeconds), r.OutputDir)
	}
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cfgFlag := fs.String("config", "", "configuration file")
	output := fs.String("o", "", "output directory to check")
	scraper := fs.String("scraper", "", "scraper command override")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	path := strings.TrimSpace(*cfgFlag)
	if path == "" && len(positional) > 0 {
		path = strings.TrimSpace(positional[0])
	}

	res := doctor.Run(doctor.Options{
		ConfigPath:     path,
		OutputDir:      strings.TrimSpace(*output),
		ScraperCommand: strings.TrimSpace(*scraper),
	})
	if *jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		for _, c := range res.Checks {
			fmt.Printf("%s: %s (%s)\n", c.Name, okFail(c.OK), c.Message)
		}
	}
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	if !*jsonOut {
		fmt.Println("doctor: all checks passed")
	}
	return nil
}

func runMonitor(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	output := fs.String("o", "", "output directory (default: newest *_Analysis directory)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	dir, err := outputDirArg(*output, positional)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("output directory %s: %w", dir, err)
	}

	m, err := safety.OpenMonitor(dir)
	if err != nil {
		return err
	}
	pause, reason := m.ShouldPause()
	if *jsonOut {
		return printJSON(struct {
			Stats       safety.MonitorStats `json:"stats"`
			ShouldPause bool                `json:"should_pause"`
			Reason      string              `json:"reason"`
		}{m.Stats(), pause, reason})
	}
	fmt.Print(m.Summary())
	if st := m.Stats(); len(st.FailurePatterns) > 0 {
		fmt.Println("recent failures:")
		recent := st.FailurePatterns[max(len(st.FailurePatterns)-5, 0):]
		for _, f := range recent {
			fmt.Printf("  %s %s: %s\n", f.Time.Format(time.RFC3339), f.Location, f.Error)
		}
	}
	if pause {
		fmt.Printf("pause recommended: %s\n", reason)
	} else {
		fmt.Println("pause recommended: no")
	}
	ok, why := safety.NewScheduler().IsGoodTime(time.Now())
	fmt.Printf("search window: %s (%s)\n", okFail(ok), why)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
