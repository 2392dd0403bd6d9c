package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jobx-market/internal/checkpoint"
	"jobx-market/internal/config"
	"jobx-market/internal/history"
	"jobx-market/internal/runstore"
	"jobx-market/internal/summary"
)

const harnessConfig = `roles:
  - {id: rbt, name: Behavior Technician, pay_type: hourly, search_terms: [rbt]}
search:
  max_retries: 1
  retry_backoff_base: 0s
  retry_max_jitter: 0s
  task_delay: 0s
  batch_delay: 0s
  batch_size: 2
regions:
  - name: Texas
    markets:
      - name: Houston
        paybands:
          rbt: {min: 18, max: 24}
        centers:
          - {code: HOU-001, name: Houston North, zip_code: "77001"}
          - {code: HOU-002, name: Houston South, zip_code: "77002"}
`

// installFakeJobx puts a scraper on PATH that prints two postings for every
// location except 77002, which is rate limited.
func installFakeJobx(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	script := `#!/usr/bin/env bash
set -euo pipefail
loc=""
while [ $# -gt 0 ]; do
  case "$1" in
    -l) loc="$2"; shift 2 ;;
    *) shift ;;
  esac
done
if [ "$loc" = "77002" ]; then
  echo "HTTP 429 Too Many Requests" >&2
  exit 1
fi
echo "site,title,company,job_url,min_amount,max_amount,interval"
echo "indeed,RBT,Acme,https://example.com/$loc/1,19,23,hourly"
echo "linkedin,RBT,Acme,https://example.com/$loc/2,,,"
`
	path := filepath.Join(bin, "jobx")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+":"+os.Getenv("PATH"))
	return path
}

func writeHarnessConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(harnessConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHarnessRunPartialThenResume(t *testing.T) {
	script := installFakeJobx(t)
	tmp := t.TempDir()
	cfgPath := writeHarnessConfig(t, tmp)
	out := filepath.Join(tmp, "out")
	db := filepath.Join(tmp, "history.db")

	err := Run([]string{"run", cfgPath, "-o", out, "--no-safety", "--progress=false", "--history-db", db})
	if code := ExitCode(err); code != 2 {
		t.Fatalf("expected partial exit code 2, got %d (%v)", code, err)
	}

	s, err := summary.Read(summary.Path(out))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if s.ExitStatus != summary.StatusPartial {
		t.Fatalf("expected partial status, got %s", s.ExitStatus)
	}
	if s.Tasks.Total != 2 || s.Tasks.Successful != 1 || s.Tasks.Failed != 1 {
		t.Fatalf("unexpected task counts: %+v", s.Tasks)
	}
	if s.Jobs.Total != 2 || s.Jobs.WithSalary != 1 {
		t.Fatalf("unexpected job counts: %+v", s.Jobs)
	}
	if s.Errors.ByCategory["rate_limit"] != 1 {
		t.Fatalf("expected one rate_limit failure, got %+v", s.Errors.ByCategory)
	}
	if !runstore.Exists(filepath.Join(out, "raw_jobs_HOU-001_rbt.csv")) {
		t.Fatal("expected artifact for the successful task")
	}
	if !runstore.Exists(filepath.Join(out, analysisLogName)) {
		t.Fatal("expected analysis.log in the output directory")
	}

	store, err := checkpoint.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	if p := store.ProgressSummary(); p.Completed != 1 || p.Failed != 1 || p.Remaining != 0 {
		t.Fatalf("unexpected checkpoint progress: %+v", p)
	}

	ledger, err := history.Open(db)
	if err != nil {
		t.Fatal(err)
	}
	runs, err := ledger.ListRuns(context.Background(), 10)
	_ = ledger.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != s.RunID || runs[0].OutputDir != out {
		t.Fatalf("unexpected history rows: %+v", runs)
	}

	if err := Run([]string{"status", "-o", out, "--json"}); err != nil {
		t.Fatalf("status failed: %v", err)
	}

	// The rate limit clears; resume reuses HOU-001 and retries HOU-002.
	if err := os.WriteFile(script, []byte("#!/usr/bin/env bash\necho \"site,title,job_url,min_amount,max_amount\"\necho \"indeed,RBT,https://example.com/retry,20,30\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	err = Run([]string{"run", cfgPath, "-o", out, "--resume", "--no-safety", "--progress=false", "--history-db", ""})
	if err != nil {
		t.Fatalf("resume run failed: %v", err)
	}
	s, err = summary.Read(summary.Path(out))
	if err != nil {
		t.Fatal(err)
	}
	if s.ExitStatus != summary.StatusSuccess || s.Tasks.Reloaded != 1 || s.Tasks.Successful != 2 {
		t.Fatalf("unexpected resumed summary: status=%s tasks=%+v", s.ExitStatus, s.Tasks)
	}
}

func TestHarnessDryRunNeedsNoScraper(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	cfgPath := writeHarnessConfig(t, t.TempDir())

	if err := Run([]string{"run", "--dry-run", cfgPath, "--json"}); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
}

func TestHarnessUnknownRole(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := writeHarnessConfig(t, tmp)
	err := Run([]string{"run", cfgPath, "--role", "bcba", "--dry-run"})
	if err == nil {
		t.Fatal("expected unknown role error")
	}
	if ExitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %d", ExitCode(err))
	}
}

func TestHarnessResetClearsCheckpoint(t *testing.T) {
	out := t.TempDir()
	store, err := checkpoint.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.MarkTaskFailed("HOU-001", "rbt", "HTTP 429", 3); err != nil {
		t.Fatal(err)
	}

	if err := Run([]string{"reset", "-o", out, "--yes"}); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	reopened, err := checkpoint.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	if p := reopened.ProgressSummary(); p.Failed != 0 || p.Completed != 0 {
		t.Fatalf("expected empty checkpoint, got %+v", p)
	}
}

func TestHarnessMigrateAndValidate(t *testing.T) {
	tmp := t.TempDir()
	legacy := filepath.Join(tmp, "legacy.yaml")
	body := `job_title: Registered Behavior Technician
markets:
  - name: Houston
    locations:
      - {name: Midtown, zip_code: "77002"}
`
	if err := os.WriteFile(legacy, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	migrated := filepath.Join(tmp, "new.yaml")
	if err := Run([]string{"migrate-config", legacy, migrated}); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if err := Run([]string{"migrate-config", legacy, migrated}); err == nil {
		t.Fatal("expected refusal to overwrite without --force")
	}
	if err := Run([]string{"validate", migrated, "--json"}); err != nil {
		t.Fatalf("validate migrated config failed: %v", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if err := Run([]string{"frobnicate"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestDefaultOutputDir(t *testing.T) {
	cfg, err := config.Load(writeHarnessConfig(t, t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if got := defaultOutputDir(cfg, "", now); got != "2026-03-02_Market_Analysis" {
		t.Fatalf("unexpected default dir %q", got)
	}
	if got := defaultOutputDir(cfg, "rbt", now); got != "2026-03-02_Behavior_Technician_Analysis" {
		t.Fatalf("unexpected role dir %q", got)
	}
}

func TestInterruptHandlerSecondSignalExits(t *testing.T) {
	shutdowns := 0
	exitCode := -1
	h := &interruptHandler{
		shutdown: func() { shutdowns++ },
		exit:     func(code int) { exitCode = code },
	}
	h.interrupt()
	if shutdowns != 1 || exitCode != -1 {
		t.Fatalf("first interrupt should only request shutdown (shutdowns=%d exit=%d)", shutdowns, exitCode)
	}
	h.interrupt()
	if exitCode != 130 {
		t.Fatalf("second interrupt should exit 130, got %d", exitCode)
	}
}

func TestDryRunPlanListsLocations(t *testing.T) {
	cfg, err := config.Load(writeHarnessConfig(t, t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	plan := buildDryRunPlan(cfg, cfg.RoleIDs())
	if plan.Tasks != 2 || plan.Batches != 1 {
		t.Fatalf("unexpected plan size: tasks=%d batches=%d", plan.Tasks, plan.Batches)
	}
	want := dryRunLocation{Code: "HOU-001", Name: "Houston North", Market: "Houston", Address: "77001", Tasks: 1}
	if len(plan.Locations) != 2 || plan.Locations[0] != want {
		t.Fatalf("unexpected locations: %+v", plan.Locations)
	}
}
