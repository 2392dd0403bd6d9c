// Package batch turns a configuration into search tasks and runs them in bounded
// batches, checkpointing every outcome so an interrupted run can resume.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jobx-market/internal/checkpoint"
	"jobx-market/internal/classify"
	"jobx-market/internal/config"
	"jobx-market/internal/model"
	"jobx-market/internal/retry"
	"jobx-market/internal/runstore"
	"jobx-market/internal/safety"
	"jobx-market/internal/search"
)

var ErrUnknownRole = errors.New("unknown role")

// Safety switches on safe mode: outcomes feed the monitor, the executor cools down
// when the monitor asks for a pause, and inter-batch delays become human-like.
type Safety struct {
	Monitor   *safety.Monitor
	Scheduler *safety.Scheduler
	// WaitForGoodTime holds the run until the scheduler accepts the time of day.
	WaitForGoodTime bool
}

type Options struct {
	OutputDir string
	Logger    *zap.Logger
	// Rand drives order randomization. Nil seeds a fresh source.
	Rand *rand.Rand
	// Sleep is used for every delay. Nil means retry.SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter overrides the retry jitter source.
	Jitter        func() time.Duration
	Now           func() time.Time
	MeterProvider metric.MeterProvider
	Safety        *Safety
	// SkipLock runs without the output directory lock.
	SkipLock bool

	OnOutcome func(model.TaskOutcome)
	OnBatch   func(index, total int)
}

type Executor struct {
	cfg      *config.Config
	store    *checkpoint.Store
	searcher search.Searcher
	opts     Options
	log      *zap.Logger
	metrics  *executorMetrics
	limiter  *rate.Limiter

	shutdown   atomic.Bool
	shutdownCh chan struct{}
	stopOnce   sync.Once

	// tasks is the task list of the current run. It is set before any batch starts.
	tasks []model.Task

	mu      sync.Mutex
	results []model.TaskOutcome
	states  map[string]*model.TaskState
	fatal   error
}

// New wires an executor. A nil store runs without checkpointing.
func New(cfg *config.Config, store *checkpoint.Store, searcher search.Searcher, opts Options) *Executor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m, err := newExecutorMetrics(opts.MeterProvider)
	if err != nil {
		log.Warn("metrics disabled", zap.Error(err))
		m = noopExecutorMetrics()
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.SleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	e := &Executor{
		cfg:        cfg,
		store:      store,
		searcher:   searcher,
		opts:       opts,
		log:        log,
		metrics:    m,
		shutdownCh: make(chan struct{}),
		states:     map[string]*model.TaskState{},
	}
	if rpm := cfg.Search.RequestsPerMinute; rpm > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(rpm/60), 1)
	}
	return e
}

// RequestShutdown stops the run after the batch in flight. Safe from any goroutine.
func (e *Executor) RequestShutdown() {
	e.shutdown.Store(true)
	e.stopOnce.Do(func() { close(e.shutdownCh) })
}

func (e *Executor) ShutdownRequested() bool {
	return e.shutdown.Load()
}

// ExecuteAll runs every task of every role and returns outcomes grouped by market.
func (e *Executor) ExecuteAll(ctx context.Context, resume bool) (map[string][]model.TaskOutcome, error) {
	return e.execute(ctx, e.cfg.RoleIDs(), resume)
}

// ExecuteForRole runs the tasks of one role.
func (e *Executor) ExecuteForRole(ctx context.Context, roleID string, resume bool) (map[string][]model.TaskOutcome, error) {
	if _, ok := e.cfg.Role(roleID); !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownRole, roleID, e.cfg.RoleIDs())
	}
	return e.execute(ctx, []string{roleID}, resume)
}

// Tasks returns the task list a run over roleIDs would build.
func (e *Executor) Tasks(roleIDs []string) []model.Task {
	var rng *rand.Rand
	if e.cfg.Search.RandomizeOrder {
		rng = e.opts.Rand
	}
	return BuildTasks(e.cfg, roleIDs, rng)
}

func (e *Executor) execute(ctx context.Context, roleIDs []string, resume bool) (map[string][]model.TaskOutcome, error) {
	if !e.opts.SkipLock && e.opts.OutputDir != "" {
		lock, err := runstore.AcquireRunLock(e.opts.OutputDir)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = lock.Release()
		}()
	}

	started := e.opts.Now()
	all := e.Tasks(roleIDs)

	e.mu.Lock()
	e.results = nil
	e.states = map[string]*model.TaskState{}
	e.fatal = nil
	pending, err := e.prepareLocked(all, resume)
	reloaded := slices.Clone(e.results)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.tasks = all
	if e.store != nil {
		if err := e.store.SetTotalTasks(len(all)); err != nil {
			return nil, fmt.Errorf("record total tasks: %w", err)
		}
		for _, o := range reloaded {
			if err := e.markFinished(o.Task); err != nil {
				return nil, fmt.Errorf("record finished center %s: %w", o.Task.LocationCode, err)
			}
		}
	}

	batchSize := max(e.cfg.Search.BatchSize, 1)
	batches := partition(pending, batchSize)
	e.log.Info("starting search run",
		zap.Int("tasks", len(all)),
		zap.Int("pending", len(pending)),
		zap.Int("reloaded", len(all)-len(pending)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", batchSize),
	)

	if s := e.opts.Safety; s != nil && s.WaitForGoodTime && s.Scheduler != nil && len(batches) > 0 {
		notify := func(reason string, wait time.Duration) {
			e.log.Info("waiting for a better search window", zap.String("reason", reason), zap.Duration("wait", wait))
		}
		if err := s.Scheduler.WaitForGoodTime(ctx, e.pause, notify); err != nil && !e.stopping(ctx) {
			return nil, err
		}
	}

	for i, b := range batches {
		if e.stopping(ctx) {
			e.log.Warn("shutdown requested, not starting remaining batches",
				zap.Int("batch", i+1),
				zap.Int("remaining_batches", len(batches)-i),
			)
			break
		}
		e.cooldownIfNeeded(ctx)
		if e.stopping(ctx) {
			break
		}
		if e.opts.OnBatch != nil {
			e.opts.OnBatch(i+1, len(batches))
		}
		e.log.Info("processing batch", zap.Int("batch", i+1), zap.Int("batches", len(batches)), zap.Int("tasks", len(b)))

		e.runBatch(ctx, b)
		e.metrics.batchCompleted(ctx)

		if err := e.fatalErr(); err != nil {
			return e.GroupByMarket(), err
		}
		if i < len(batches)-1 && !e.stopping(ctx) {
			_ = e.pause(ctx, e.batchDelay())
		}
	}

	if e.store != nil {
		if err := e.store.AddRuntime(e.opts.Now().Sub(started)); err != nil {
			e.log.Warn("persist runtime", zap.Error(err))
		}
	}
	return e.GroupByMarket(), nil
}

func (e *Executor) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		e.RequestShutdown()
	}
	return e.ShutdownRequested()
}

// prepareLocked records a state per task and, on resume, reloads completed work.
func (e *Executor) prepareLocked(all []model.Task, resume bool) ([]model.Task, error) {
	pending := make([]model.Task, 0, len(all))
	for _, task := range all {
		ts := &model.TaskState{Key: task.Key()}
		e.states[task.Key()] = ts

		if !resume || e.store == nil || !e.store.IsTaskDone(task.LocationCode, task.RoleID) {
			if err := model.TransitionTask(ts, model.StateQueued, ""); err != nil {
				return nil, err
			}
			pending = append(pending, task)
			continue
		}

		if entry, ok := e.store.CompletedArtifact(task.LocationCode, task.RoleID); ok {
			ts.State = model.StateCompleted
			outcome, reason := e.reload(task, entry)
			if reason == "" {
				e.results = append(e.results, outcome)
				continue
			}
			e.log.Warn("requeueing completed task", zap.String("task", task.Key()), zap.String("reason", reason))
			if err := e.store.ForgetTask(task.LocationCode, task.RoleID); err != nil {
				return nil, fmt.Errorf("forget %s: %w", task.Key(), err)
			}
			if err := model.TransitionTask(ts, model.StateQueued, reason); err != nil {
				return nil, err
			}
			pending = append(pending, task)
			continue
		}

		failure, _ := e.store.Failure(task.LocationCode, task.RoleID)
		ts.State = model.StateFailedExhausted
		if !classify.Retryable(classify.Classify(failure.Error)) {
			ts.State = model.StateFailedNoData
		}
		if err := model.TransitionTask(ts, model.StateQueued, "retry failed task"); err != nil {
			return nil, err
		}
		pending = append(pending, task)
	}
	return pending, nil
}

// reload rebuilds an outcome from a checkpointed artifact. A non-empty reason means
// the artifact cannot be trusted.
func (e *Executor) reload(task model.Task, entry checkpoint.CompletedEntry) (model.TaskOutcome, string) {
	path := e.artifactFor(task, entry)
	if !runstore.Exists(path) {
		return model.TaskOutcome{}, "artifact missing: " + path
	}
	table, err := search.ReadArtifact(path)
	if err != nil {
		return model.TaskOutcome{}, "artifact unreadable: " + err.Error()
	}
	if table.Len() < entry.RowCount {
		return model.TaskOutcome{}, fmt.Sprintf("artifact has %d rows, checkpoint recorded %d", table.Len(), entry.RowCount)
	}
	return model.TaskOutcome{
		Task:           task,
		Success:        true,
		RowCount:       table.Len(),
		SalaryRowCount: table.SalaryCount(),
		ArtifactPath:   path,
		Reloaded:       true,
	}, ""
}

// artifactFor resolves a checkpointed artifact. Entries are stored relative to the
// output directory; absolute entries from older checkpoints fall back to the
// canonical location when they no longer exist.
func (e *Executor) artifactFor(task model.Task, entry checkpoint.CompletedEntry) string {
	canonical := search.ArtifactPath(e.opts.OutputDir, task.LocationCode, task.RoleID)
	path := entry.ArtifactPath
	switch {
	case path == "":
		return canonical
	case !filepath.IsAbs(path):
		path = filepath.Join(e.opts.OutputDir, path)
	}
	if !runstore.Exists(path) && runstore.Exists(canonical) {
		return canonical
	}
	return path
}

func (e *Executor) controller() *retry.Controller {
	return &retry.Controller{
		Search: func(ctx context.Context, task model.Task) (*search.Table, error) {
			return e.searcher.Search(ctx, search.Query{
				Task:          task,
				SearchTerms:   task.SearchTerms,
				Location:      task.ZipCode,
				RadiusMiles:   e.cfg.Search.RadiusMiles,
				ResultsWanted: e.cfg.Search.ResultsPerLocation,
			})
		},
		MaxRetries:  e.cfg.Search.MaxRetries,
		BaseBackoff: e.cfg.Search.RetryBackoffBase,
		Jitter:      e.jitter(),
		Sleep:       e.opts.Sleep,
		Limiter:     e.limiter,
		Logger:      e.log,
		Now:         e.opts.Now,
	}
}

func (e *Executor) jitter() func() time.Duration {
	if e.opts.Jitter != nil {
		return e.opts.Jitter
	}
	return retry.UniformJitter(e.cfg.Search.RetryMaxJitter)
}

// runBatch runs one batch with at most len(tasks) searches in flight and records
// outcomes in completion order. Cancelling ctx does not reach searches already
// started; it only stops later batches.
func (e *Executor) runBatch(ctx context.Context, tasks []model.Task) {
	ctrl := e.controller()
	workCtx := context.WithoutCancel(ctx)
	results := make(chan retry.Result, len(tasks))

	var g errgroup.Group
	g.SetLimit(max(e.cfg.Search.BatchSize, 1))
	for _, task := range tasks {
		e.transition(task.Key(), model.StateInProgress, "")
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results <- retry.Result{Outcome: model.TaskOutcome{
						Task:     task,
						Error:    fmt.Sprintf("uncaught exception: %v", r),
						Category: model.CategoryUnknown,
						Attempts: 1,
					}}
				}
			}()
			results <- ctrl.Run(workCtx, task)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	done := 0
	for res := range results {
		done++
		e.record(workCtx, res)
		if done < len(tasks) {
			_ = e.pause(ctx, e.cfg.Search.TaskDelay)
		}
	}
}

// record checkpoints one outcome. A successful search only counts once its artifact
// is on disk.
func (e *Executor) record(ctx context.Context, res retry.Result) {
	o := res.Outcome
	task := o.Task

	if o.Success {
		path := search.ArtifactPath(e.opts.OutputDir, task.LocationCode, task.RoleID)
		if err := search.WriteArtifact(path, task, res.Table); err != nil {
			o.Success = false
			o.Error = fmt.Sprintf("write artifact: %v", err)
			o.Category = classify.Classify(o.Error)
		} else {
			o.ArtifactPath = path
		}
	}

	if e.store != nil {
		var err error
		if o.Success {
			err = e.store.MarkTaskComplete(task.LocationCode, task.RoleID, o.RowCount, o.SalaryRowCount, filepath.Base(o.ArtifactPath))
		} else {
			err = e.store.MarkTaskFailed(task.LocationCode, task.RoleID, o.Error, o.Attempts)
		}
		if err == nil {
			err = e.markFinished(task)
		}
		if err != nil {
			e.setFatal(fmt.Errorf("record %s: %w", task.Key(), err))
		}
	}

	if s := e.opts.Safety; s != nil && s.Monitor != nil {
		if err := s.Monitor.RecordSearch(task.ZipCode, o.Success, o.RowCount, o.Error); err != nil {
			e.log.Warn("persist search monitor", zap.Error(err))
		}
	}
	e.metrics.observeOutcome(ctx, o)

	if o.Success {
		e.log.Info(fmt.Sprintf("SUCCESS | %s (%s) - %d jobs found, %d with salary", task.LocationName, task.ZipCode, o.RowCount, o.SalaryRowCount),
			zap.String("task", task.Key()),
			zap.Int("attempt", o.Attempts),
			zap.Float64("duration", o.Duration()),
		)
		e.transition(task.Key(), model.StateCompleted, "")
	} else {
		e.log.Warn(fmt.Sprintf("FAILED | %s (%s) - %s", task.LocationName, task.ZipCode, o.Error),
			zap.String("task", task.Key()),
			zap.Int("attempt", o.Attempts),
			zap.String("category", string(o.Category)),
		)
		to := model.StateFailedExhausted
		if o.Category == model.CategoryNoData {
			to = model.StateFailedNoData
		}
		e.transition(task.Key(), to, o.Error)
	}

	e.mu.Lock()
	e.results = append(e.results, o)
	if ts := e.states[task.Key()]; ts != nil {
		ts.Attempts = o.Attempts
	}
	e.mu.Unlock()

	if e.opts.OnOutcome != nil {
		e.opts.OnOutcome(o)
	}
}

// markFinished records the task's center once every task of the run at that center
// has a checkpoint entry, and its region once every center in it has.
func (e *Executor) markFinished(task model.Task) error {
	centerDone, regionDone := true, true
	for _, t := range e.tasks {
		if t.RegionName != task.RegionName {
			continue
		}
		if e.store.IsTaskDone(t.LocationCode, t.RoleID) {
			continue
		}
		regionDone = false
		if t.LocationCode == task.LocationCode {
			centerDone = false
			break
		}
	}
	if !centerDone {
		return nil
	}
	if err := e.store.MarkCenterComplete(task.LocationCode); err != nil {
		return err
	}
	if regionDone {
		return e.store.MarkRegionComplete(task.RegionName)
	}
	return nil
}

func (e *Executor) transition(key, to, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := e.states[key]
	if ts == nil {
		return
	}
	if err := model.TransitionTask(ts, to, reason); err != nil {
		e.log.Error("task state", zap.Error(err))
	}
}

func (e *Executor) setFatal(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal == nil {
		e.fatal = err
	}
}

func (e *Executor) fatalErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

// pause sleeps for d unless the run is shutting down.
func (e *Executor) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return e.opts.Sleep(ctx, d)
}

// batchDelay never goes below search.batch_delay; with safety on the scheduler may
// stretch it.
func (e *Executor) batchDelay() time.Duration {
	if s := e.opts.Safety; s != nil && s.Scheduler != nil {
		return max(s.Scheduler.HumanDelay(e.cfg.Safety.BaseDelay), e.cfg.Search.BatchDelay)
	}
	return e.cfg.Search.BatchDelay
}

func (e *Executor) cooldownIfNeeded(ctx context.Context) {
	s := e.opts.Safety
	if s == nil || s.Monitor == nil {
		return
	}
	pause, reason := s.Monitor.ShouldPause()
	if !pause {
		return
	}
	e.log.Warn("safe mode cooldown", zap.String("reason", reason), zap.Duration("cooldown", e.cfg.Safety.Cooldown))
	_ = e.pause(ctx, e.cfg.Safety.Cooldown)
}

// TaskStates returns a copy of the per-task state for the current run.
func (e *Executor) TaskStates() map[string]model.TaskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]model.TaskState, len(e.states))
	for k, v := range e.states {
		out[k] = *v
	}
	return out
}

// Results returns the outcomes of the current run in completion order.
func (e *Executor) Results() []model.TaskOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.TaskOutcome(nil), e.results...)
}

func (e *Executor) GroupByMarket() map[string][]model.TaskOutcome {
	return ByMarket(e.Results())
}

func (e *Executor) SummaryStats() SummaryStats {
	return Summarize(e.Results())
}

func (e *Executor) RoleStats(roleID string) RoleStats {
	return RoleSummary(e.Results(), roleID)
}

func (e *Executor) TimingStats() TimingStats {
	return Timing(e.Results())
}

func (e *Executor) ErrorSummary(topN int) ErrorSummary {
	return Errors(e.Results(), topN)
}

func (e *Executor) SlowestSearches(n int) []model.TaskOutcome {
	return Slowest(e.Results(), n)
}
