package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobx-market/internal/model"
	"jobx-market/internal/summary"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), DefaultPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func runSummary(id, started string, status summary.ExitStatus) summary.RunSummary {
	return summary.RunSummary{
		RunID:          id,
		RunStartedAt:   started,
		RunFinishedAt:  started,
		ConfigFile:     "config.yaml",
		ExitStatus:     status,
		Tasks:          summary.Tasks{Total: 2, Successful: 1, Failed: 1},
		Jobs:           summary.Jobs{Total: 10, WithSalary: 4},
		Recommendation: "1 tasks failed. Re-run with --resume to retry them.",
	}
}

func outcomes() []model.TaskOutcome {
	return []model.TaskOutcome{
		{
			Task:            model.Task{LocationCode: "A", RoleID: "rbt", MarketName: "Houston"},
			Success:         true,
			RowCount:        10,
			SalaryRowCount:  4,
			Attempts:        1,
			DurationSeconds: model.Seconds(12.5),
		},
		{
			Task:     model.Task{LocationCode: "B", RoleID: "rbt", MarketName: "Houston"},
			Error:    "HTTP 429",
			Category: model.CategoryRateLimit,
			Attempts: 3,
		},
	}
}

func TestRecordAndListRuns(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	require.NoError(t, l.RecordRun(ctx, "out1", runSummary("r1", "2026-03-01T10:00:00Z", summary.StatusPartial), outcomes()))
	require.NoError(t, l.RecordRun(ctx, "out2", runSummary("r2", "2026-03-02T10:00:00Z", summary.StatusSuccess), outcomes()[:1]))

	runs, err := l.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, "out1", runs[1].OutputDir)
	assert.Equal(t, "partial", runs[1].ExitStatus)
	assert.Equal(t, 10, runs[1].JobsTotal)

	failed, err := l.FailedTasks(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"B:rbt": "HTTP 429"}, failed)

	limited, err := l.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordRunReplacesSameID(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	require.NoError(t, l.RecordRun(ctx, "out", runSummary("r1", "2026-03-01T10:00:00Z", summary.StatusPartial), outcomes()))
	require.NoError(t, l.RecordRun(ctx, "out", runSummary("r1", "2026-03-01T10:00:00Z", summary.StatusSuccess), outcomes()[:1]))

	runs, err := l.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].ExitStatus)

	failed, err := l.FailedTasks(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRecordRunRequiresID(t *testing.T) {
	l := openLedger(t)
	err := l.RecordRun(context.Background(), "out", summary.RunSummary{}, nil)
	require.Error(t, err)
}
