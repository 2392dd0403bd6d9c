// Package summary builds the run_summary.json audit record written at the end of a run.
package summary

import (
	"fmt"
	"math"
	"path/filepath"
	"time"

	"jobx-market/internal/batch"
	"jobx-market/internal/checkpoint"
	"jobx-market/internal/config"
	"jobx-market/internal/model"
	"jobx-market/internal/runstore"
)

const (
	FileName         = "run_summary.json"
	SchemaVersion    = 1
	DefaultMinSample = 100
	slowestLimit     = 5
	topErrorLimit    = 5
)

type ExitStatus string

const (
	StatusSuccess     ExitStatus = "success"
	StatusFailure     ExitStatus = "failure"
	StatusPartial     ExitStatus = "partial"
	StatusInterrupted ExitStatus = "interrupted"
)

// ExitCode maps a run status onto the process exit code.
func ExitCode(s ExitStatus) int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 2
	case StatusInterrupted:
		return 130
	default:
		return 1
	}
}

// Classify decides the run status. Zero tasks count as a failure.
func Classify(total, successful int, interrupted bool) ExitStatus {
	switch {
	case interrupted:
		return StatusInterrupted
	case successful == 0:
		return StatusFailure
	case successful < total:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

type Input struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	ConfigFile  string
	Config      *config.Config
	Outcomes    []model.TaskOutcome
	Interrupted bool
	Progress    checkpoint.Progress
	MinSample   int
}

type Tasks struct {
	Total          int     `json:"total"`
	Successful     int     `json:"successful"`
	Failed         int     `json:"failed"`
	SuccessRatePct float64 `json:"success_rate_pct"`
	Reloaded       int     `json:"reloaded"`
}

type Jobs struct {
	Total      int `json:"total"`
	WithSalary int `json:"with_salary"`
}

type ConfigSummary struct {
	Roles      []string `json:"roles"`
	Regions    int      `json:"regions"`
	Markets    int      `json:"markets"`
	Centers    int      `json:"centers"`
	BatchSize  int      `json:"batch_size"`
	MaxRetries int      `json:"max_retries"`
}

type SlowSearch struct {
	Task            string  `json:"task"`
	Location        string  `json:"location"`
	Role            string  `json:"role"`
	Success         bool    `json:"success"`
	DurationSeconds float64 `json:"duration_seconds"`
	Attempts        int     `json:"attempts"`
}

type Timing struct {
	P50Seconds      float64      `json:"search_duration_p50_seconds"`
	P95Seconds      float64      `json:"search_duration_p95_seconds"`
	MaxSeconds      float64      `json:"search_duration_max_seconds"`
	TimedSearches   int          `json:"timed_searches"`
	SlowestSearches []SlowSearch `json:"slowest_searches"`
}

type RoleRollup struct {
	Tasks              int     `json:"tasks"`
	Successful         int     `json:"successful"`
	Jobs               int     `json:"jobs"`
	WithSalary         int     `json:"with_salary"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

type MarketRollup struct {
	Tasks              int     `json:"tasks"`
	Successful         int     `json:"successful"`
	Jobs               int     `json:"jobs"`
	WithSalary         int     `json:"with_salary"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	WithSufficientData bool    `json:"with_sufficient_data"`
}

type Checkpoint struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

type RunSummary struct {
	SchemaVersion  int                     `json:"schema_version"`
	RunID          string                  `json:"run_id"`
	RunStartedAt   string                  `json:"run_started_at"`
	RunFinishedAt  string                  `json:"run_finished_at"`
	DurationSecs   float64                 `json:"duration_seconds"`
	DurationHuman  string                  `json:"duration_human"`
	ConfigFile     string                  `json:"config_file"`
	ExitStatus     ExitStatus              `json:"exit_status"`
	Tasks          Tasks                   `json:"tasks"`
	Jobs           Jobs                    `json:"jobs"`
	ConfigSummary  ConfigSummary           `json:"config_summary"`
	Timing         Timing                  `json:"timing"`
	Errors         batch.ErrorSummary      `json:"errors"`
	PerRole        map[string]RoleRollup   `json:"per_role"`
	PerMarket      map[string]MarketRollup `json:"per_market"`
	Checkpoint     Checkpoint              `json:"checkpoint"`
	Recommendation string                  `json:"recommendation"`
}

// Build aggregates a finished run. It does not touch the filesystem.
func Build(in Input) RunSummary {
	minSample := in.MinSample
	if minSample <= 0 {
		minSample = DefaultMinSample
	}
	stats := batch.Summarize(in.Outcomes)
	timing := batch.Timing(in.Outcomes)
	errs := batch.Errors(in.Outcomes, topErrorLimit)
	duration := in.FinishedAt.Sub(in.StartedAt).Seconds()
	status := Classify(stats.TotalTasks, stats.Successful, in.Interrupted)

	s := RunSummary{
		SchemaVersion: SchemaVersion,
		RunID:         in.RunID,
		RunStartedAt:  in.StartedAt.UTC().Format(time.RFC3339),
		RunFinishedAt: in.FinishedAt.UTC().Format(time.RFC3339),
		DurationSecs:  round(duration, 1),
		DurationHuman: FormatDuration(duration),
		ConfigFile:    in.ConfigFile,
		ExitStatus:    status,
		Tasks: Tasks{
			Total:      stats.TotalTasks,
			Successful: stats.Successful,
			Failed:     stats.Failed,
			Reloaded:   stats.Reloaded,
		},
		Jobs: Jobs{Total: stats.TotalJobs, WithSalary: stats.JobsWithSalary},
		Timing: Timing{
			P50Seconds:      round(timing.P50, 2),
			P95Seconds:      round(timing.P95, 2),
			MaxSeconds:      round(timing.Max, 2),
			TimedSearches:   timing.Count,
			SlowestSearches: []SlowSearch{},
		},
		Errors:         errs,
		PerRole:        map[string]RoleRollup{},
		PerMarket:      map[string]MarketRollup{},
		Checkpoint:     Checkpoint(in.Progress),
		Recommendation: Recommendation(stats.TotalTasks, stats.Failed, errs, in.Interrupted),
	}
	if stats.TotalTasks > 0 {
		s.Tasks.SuccessRatePct = round(float64(stats.Successful)/float64(stats.TotalTasks)*100, 1)
	}

	if cfg := in.Config; cfg != nil {
		s.ConfigSummary = ConfigSummary{
			Roles:      cfg.RoleIDs(),
			Regions:    len(cfg.Regions),
			Markets:    len(cfg.AllMarkets()),
			Centers:    cfg.TotalLocations(),
			BatchSize:  cfg.Search.BatchSize,
			MaxRetries: cfg.Search.MaxRetries,
		}
	}

	for _, o := range batch.Slowest(in.Outcomes, slowestLimit) {
		s.Timing.SlowestSearches = append(s.Timing.SlowestSearches, SlowSearch{
			Task:            o.Task.Key(),
			Location:        fmt.Sprintf("%s (%s)", o.Task.LocationName, o.Task.ZipCode),
			Role:            o.Task.RoleID,
			Success:         o.Success,
			DurationSeconds: round(o.Duration(), 2),
			Attempts:        o.Attempts,
		})
	}

	for id, rs := range stats.ByRole {
		s.PerRole[id] = RoleRollup{
			Tasks:              rs.Tasks,
			Successful:         rs.Successful,
			Jobs:               rs.Jobs,
			WithSalary:         rs.WithSalary,
			AvgDurationSeconds: round(rs.AvgDurationSeconds, 2),
		}
	}

	for market, outcomes := range batch.ByMarket(in.Outcomes) {
		var mr MarketRollup
		var total float64
		timed := 0
		for _, o := range outcomes {
			mr.Tasks++
			if o.Success {
				mr.Successful++
				mr.Jobs += o.RowCount
				mr.WithSalary += o.SalaryRowCount
			}
			if o.HasDuration() {
				total += o.Duration()
				timed++
			}
		}
		if timed > 0 {
			mr.AvgDurationSeconds = round(total/float64(timed), 2)
		}
		mr.WithSufficientData = mr.WithSalary >= minSample
		s.PerMarket[market] = mr
	}
	return s
}

// FormatDuration renders seconds as "2h 27m 33s", "1m 30s" or "45s".
func FormatDuration(seconds float64) string {
	total := int(math.Max(seconds, 0))
	h, m, sec := total/3600, total%3600/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

// Recommendation picks the operator advice for a run from its failure mix.
func Recommendation(total, failed int, errs batch.ErrorSummary, interrupted bool) string {
	if interrupted {
		return "Run was interrupted. Resume with --resume to finish the remaining tasks."
	}
	if total == 0 {
		return "No tasks were executed. Check the configuration: every role needs a payband in at least one market."
	}
	if failed == 0 || errs.TotalFailures == 0 {
		return "All searches succeeded. No re-run needed."
	}

	byCat := errs.ByCategory
	failures := errs.TotalFailures
	if byCat[string(model.CategoryNoData)] == failures {
		return "All failures are no_data: the searches returned no postings. This is structural. Re-run will not help; widen the search radius or adjust search terms."
	}
	if rl := byCat[string(model.CategoryRateLimit)]; rl*2 > failures {
		return fmt.Sprintf("%d of %d failures were rate limited. Re-run later with slower pacing: --resume --safe-mode.", rl, failures)
	}
	if nw := byCat[string(model.CategoryNetwork)]; nw*2 > failures {
		return fmt.Sprintf("%d of %d failures were network errors. Check connectivity, then re-run with --resume.", nw, failures)
	}
	if float64(failed)/float64(total) > 0.3 {
		return fmt.Sprintf("High failure rate (%d of %d tasks). Investigate the errors in analysis.log before re-running.", failed, total)
	}
	return fmt.Sprintf("%d tasks failed. Re-run with --resume to retry them.", failed)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// Path returns where the summary of a run in outputDir lives.
func Path(outputDir string) string {
	return filepath.Join(outputDir, FileName)
}

func Write(path string, s RunSummary) error {
	if err := runstore.WriteJSON(path, s); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	return nil
}

func Read(path string) (RunSummary, error) {
	var s RunSummary
	if err := runstore.ReadJSON(path, &s); err != nil {
		return RunSummary{}, err
	}
	return s, nil
}
