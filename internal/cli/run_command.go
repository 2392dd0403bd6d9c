package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobx-market/internal/batch"
	"jobx-market/internal/checkpoint"
	"jobx-market/internal/config"
	"jobx-market/internal/history"
	"jobx-market/internal/model"
	"jobx-market/internal/runstore"
	"jobx-market/internal/safety"
	"jobx-market/internal/search"
	"jobx-market/internal/summary"
)

// exitProcess is replaced in tests.
var exitProcess = os.Exit

type runFlags struct {
	config     string
	output     string
	role       string
	resume     bool
	maxRetries int
	batchSize  int
	minSample  int
	safeMode   bool
	noSafety   bool
	dryRun     bool
	jsonOut    bool
	progress   bool
	verbose    bool
	historyDB  string
}

func runSearch(args []string) error {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&f.config, "config", "", "configuration file (or pass it as the first argument)")
	fs.StringVar(&f.output, "output", "", "output directory (default: YYYY-MM-DD_Market_Analysis)")
	fs.StringVar(&f.output, "o", "", "shorthand for --output")
	fs.StringVar(&f.role, "role", "", "search only this role id")
	fs.BoolVar(&f.resume, "resume", false, "reuse completed tasks from the checkpoint and retry failed ones")
	fs.IntVar(&f.maxRetries, "max-retries", 0, "override search.max_retries")
	fs.IntVar(&f.batchSize, "batch-size", 0, "override search.batch_size")
	fs.IntVar(&f.minSample, "min-sample", summary.DefaultMinSample, "salary rows a market needs for sufficient data")
	fs.BoolVar(&f.safeMode, "safe-mode", false, "wait for a good time of day and pace batches with human-like delays")
	fs.BoolVar(&f.noSafety, "no-safety", false, "disable the search monitor and human-like delays")
	fs.BoolVar(&f.dryRun, "dry-run", false, "validate the configuration and list the task plan without searching")
	fs.BoolVar(&f.jsonOut, "json", false, "print the run summary as JSON")
	fs.BoolVar(&f.progress, "progress", true, "show the live dashboard when stdout is a terminal")
	fs.BoolVar(&f.verbose, "v", false, "debug logging")
	fs.StringVar(&f.historyDB, "history-db", history.DefaultPath, "sqlite run ledger path (empty disables)")
	fs.SetOutput(flag.CommandLine.Output())

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if f.config, err = configArg(positional, f.config); err != nil {
		fs.Usage()
		return err
	}
	if f.safeMode && f.noSafety {
		return errors.New("--safe-mode and --no-safety are mutually exclusive")
	}

	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	if f.maxRetries > 0 {
		cfg.Search.MaxRetries = f.maxRetries
	}
	if f.batchSize > 0 {
		cfg.Search.BatchSize = f.batchSize
	}
	roleIDs := cfg.RoleIDs()
	if f.role != "" {
		if _, ok := cfg.Role(f.role); !ok {
			return fmt.Errorf("%w: %q (known: %s)", batch.ErrUnknownRole, f.role, strings.Join(cfg.RoleIDs(), ", "))
		}
		roleIDs = []string{f.role}
	}

	if !f.jsonOut {
		for _, w := range cfg.Warnings() {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		if cfg.IsLegacy() {
			fmt.Fprintf(os.Stderr, "warning: legacy configuration; convert it with: jobx-market migrate-config %s <new.yaml>\n", f.config)
		}
	}

	if f.dryRun {
		return printDryRun(cfg, roleIDs, f.jsonOut)
	}

	started := time.Now()
	outDir := f.output
	if strings.TrimSpace(outDir) == "" {
		outDir = defaultOutputDir(cfg, f.role, started)
	}
	if err := runstore.Mkdir(outDir); err != nil {
		return err
	}

	dashboard := f.progress && !f.jsonOut && stdoutIsTTY()
	log, closeLog, err := newRunLogger(outDir, logOptions{Verbose: f.verbose, Quiet: dashboard})
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := checkpoint.Open(outDir)
	if err != nil {
		return err
	}
	searcher := &search.ExecSearcher{Command: cfg.Search.ScraperCommand, Logger: log}
	if err := searcher.CheckDependencies(); err != nil {
		return err
	}

	opts := batch.Options{OutputDir: outDir, Logger: log}
	var monitor *safety.Monitor
	if !f.noSafety {
		if monitor, err = safety.OpenMonitor(outDir); err != nil {
			return err
		}
		opts.Safety = &batch.Safety{
			Monitor:         monitor,
			Scheduler:       safety.NewScheduler(),
			WaitForGoodTime: f.safeMode,
		}
	}

	var prog *tea.Program
	if dashboard {
		opts.OnOutcome = func(o model.TaskOutcome) { prog.Send(outcomeMsg(o)) }
		opts.OnBatch = func(i, n int) { prog.Send(batchMsg{index: i, total: n}) }
	}
	exec := batch.New(cfg, store, searcher, opts)

	log.Info("starting market analysis",
		zap.String("config", f.config),
		zap.String("output", outDir),
		zap.Strings("roles", roleIDs),
		zap.Bool("resume", f.resume),
		zap.Bool("safety", opts.Safety != nil),
	)

	interrupts := &interruptHandler{
		shutdown: exec.RequestShutdown,
		exit:     exitProcess,
		notify: func(msg string) {
			if !dashboard {
				fmt.Fprintln(os.Stderr, msg)
			}
			log.Warn(msg)
		},
	}
	stopSignals := interrupts.listen()
	defer stopSignals()

	ctx := context.Background()
	execute := func() error {
		if f.role != "" {
			_, err := exec.ExecuteForRole(ctx, f.role, f.resume)
			return err
		}
		_, err := exec.ExecuteAll(ctx, f.resume)
		return err
	}

	var runErr error
	if dashboard {
		prog = tea.NewProgram(newDashboardModel(len(exec.Tasks(roleIDs)), interrupts.interrupt), tea.WithoutSignalHandler())
		done := make(chan error, 1)
		go func() {
			done <- execute()
			prog.Send(runDoneMsg{})
		}()
		if _, err := prog.Run(); err != nil {
			log.Warn("live dashboard stopped", zap.Error(err))
		}
		runErr = <-done
	} else {
		runErr = execute()
	}
	if runErr != nil {
		return runErr
	}

	finished := time.Now()
	s := summary.Build(summary.Input{
		RunID:       uuid.NewString(),
		StartedAt:   started,
		FinishedAt:  finished,
		ConfigFile:  f.config,
		Config:      cfg,
		Outcomes:    exec.Results(),
		Interrupted: exec.ShutdownRequested(),
		Progress:    store.ProgressSummary(),
		MinSample:   f.minSample,
	})
	if err := summary.Write(summary.Path(outDir), s); err != nil {
		return err
	}
	if f.historyDB != "" {
		if err := recordHistory(ctx, f.historyDB, outDir, s, exec.Results()); err != nil {
			log.Warn("record run history", zap.Error(err))
		}
	}
	log.Info("run finished",
		zap.String("run_id", s.RunID),
		zap.String("exit_status", string(s.ExitStatus)),
		zap.Int("successful", s.Tasks.Successful),
		zap.Int("failed", s.Tasks.Failed),
		zap.String("duration", s.DurationHuman),
	)

	if f.jsonOut {
		if err := printJSON(s); err != nil {
			return err
		}
	} else {
		printRunReport(s, outDir)
		if monitor != nil {
			fmt.Println()
			fmt.Println("search monitor:")
			fmt.Print(indent(monitor.Summary(), "  "))
		}
		if s.ExitStatus == summary.StatusInterrupted {
			fmt.Printf("resume with: jobx-market run %s --resume -o %s\n", f.config, outDir)
		}
	}

	if code := summary.ExitCode(s.ExitStatus); code != 0 {
		return &ExitError{Code: code, Err: fmt.Errorf("run finished with status %s", s.ExitStatus)}
	}
	return nil
}

func recordHistory(ctx context.Context, path, outDir string, s summary.RunSummary, outcomes []model.TaskOutcome) error {
	ledger, err := history.Open(path)
	if err != nil {
		return err
	}
	defer ledger.Close()
	return ledger.RecordRun(ctx, outDir, s, outcomes)
}

// defaultOutputDir names the output directory after the run date and, for a
// single-role run, the role name.
func defaultOutputDir(cfg *config.Config, roleID string, now time.Time) string {
	date := now.Format("2006-01-02")
	if roleID == "" {
		return date + "_Market_Analysis"
	}
	name := roleID
	if r, ok := cfg.Role(roleID); ok {
		name = r.Name
	}
	name = strings.NewReplacer(" ", "_", "/", "-").Replace(name)
	return date + "_" + name + "_Analysis"
}

type dryRunLocation struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Market  string `json:"market"`
	Address string `json:"address"`
	Tasks   int    `json:"tasks"`
}

type dryRunPlan struct {
	Config    string           `json:"config"`
	Roles     []string         `json:"roles"`
	Regions   int              `json:"regions"`
	Markets   int              `json:"markets"`
	Centers   int              `json:"centers"`
	Tasks     int              `json:"tasks"`
	Batches   int              `json:"batches"`
	BatchSize int              `json:"batch_size"`
	Locations []dryRunLocation `json:"locations"`
	Warnings  []string         `json:"warnings"`
}

func buildDryRunPlan(cfg *config.Config, roleIDs []string) dryRunPlan {
	tasks := batch.BuildTasks(cfg, roleIDs, nil)
	perCenter := map[string]int{}
	for _, task := range tasks {
		perCenter[task.LocationCode]++
	}
	size := max(cfg.Search.BatchSize, 1)
	plan := dryRunPlan{
		Config:    cfg.Path,
		Roles:     roleIDs,
		Regions:   len(cfg.Regions),
		Markets:   len(cfg.AllMarkets()),
		Centers:   cfg.TotalLocations(),
		Tasks:     len(tasks),
		Batches:   (len(tasks) + size - 1) / size,
		BatchSize: size,
		Locations: []dryRunLocation{},
		Warnings:  cfg.Warnings(),
	}
	for _, m := range cfg.AllMarkets() {
		for _, c := range m.Centers {
			plan.Locations = append(plan.Locations, dryRunLocation{
				Code:    c.Code,
				Name:    c.Name,
				Market:  m.Name,
				Address: c.FullAddress(),
				Tasks:   perCenter[c.Code],
			})
		}
	}
	if plan.Warnings == nil {
		plan.Warnings = []string{}
	}
	return plan
}

func printDryRun(cfg *config.Config, roleIDs []string, jsonOut bool) error {
	plan := buildDryRunPlan(cfg, roleIDs)
	if jsonOut {
		return printJSON(plan)
	}
	fmt.Printf("config: %s\n", plan.Config)
	fmt.Printf("roles: %s\n", strings.Join(plan.Roles, ", "))
	fmt.Printf("regions: %d\n", plan.Regions)
	fmt.Printf("markets: %d\n", plan.Markets)
	fmt.Printf("centers: %d\n", plan.Centers)
	fmt.Printf("tasks: %d\n", plan.Tasks)
	fmt.Printf("batches: %d (size %d)\n", plan.Batches, plan.BatchSize)
	fmt.Println("locations:")
	for _, loc := range plan.Locations {
		fmt.Printf("  %s %s [%s] %s: %d tasks\n", loc.Code, loc.Name, loc.Market, loc.Address, loc.Tasks)
	}
	fmt.Println("dry run complete: configuration is valid")
	return nil
}

func printRunReport(s summary.RunSummary, outDir string) {
	fmt.Printf("run_id: %s\n", s.RunID)
	fmt.Printf("exit_status: %s\n", s.ExitStatus)
	fmt.Printf("duration: %s\n", s.DurationHuman)
	fmt.Printf("tasks: %d total, %d successful, %d failed, %d reloaded (%.1f%%)\n",
		s.Tasks.Total, s.Tasks.Successful, s.Tasks.Failed, s.Tasks.Reloaded, s.Tasks.SuccessRatePct)
	fmt.Printf("jobs: %d (%d with salary)\n", s.Jobs.Total, s.Jobs.WithSalary)
	if s.Timing.TimedSearches > 0 {
		fmt.Printf("search duration: p50 %.1fs, p95 %.1fs, max %.1fs\n", s.Timing.P50Seconds, s.Timing.P95Seconds, s.Timing.MaxSeconds)
	}
	if s.Errors.TotalFailures > 0 {
		fmt.Println("errors:")
		for _, cat := range model.Categories {
			if n := s.Errors.ByCategory[string(cat)]; n > 0 {
				fmt.Printf("  %s: %d\n", cat, n)
			}
		}
	}
	fmt.Printf("output: %s\n", outDir)
	fmt.Printf("recommendation: %s\n", s.Recommendation)
}

func indent(text, prefix string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		b.WriteString(prefix + line + "\n")
	}
	return b.String()
}

// interruptHandler turns the first interrupt into a graceful shutdown and the
// second into an immediate exit.
type interruptHandler struct {
	count    atomic.Int32
	shutdown func()
	exit     func(code int)
	notify   func(msg string)
}

func (h *interruptHandler) interrupt() {
	if h.count.Add(1) == 1 {
		if h.notify != nil {
			h.notify("shutdown requested: finishing the current batch (interrupt again to exit now)")
		}
		h.shutdown()
		return
	}
	h.exit(summary.ExitCode(summary.StatusInterrupted))
}

func (h *interruptHandler) listen() func() {
	sigCh := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-sigCh:
				h.interrupt()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
