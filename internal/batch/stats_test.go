package batch

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobx-market/internal/config"
	"jobx-market/internal/model"
)

func timed(code string, seconds float64, success bool, category model.ErrorCategory, msg string) model.TaskOutcome {
	return model.TaskOutcome{
		Task:            model.Task{LocationCode: code, RoleID: "rbt", MarketName: "M"},
		Success:         success,
		RowCount:        boolInt(success) * 10,
		Category:        category,
		Error:           msg,
		DurationSeconds: model.Seconds(seconds),
		Attempts:        1,
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestTiming(t *testing.T) {
	assert.Equal(t, TimingStats{}, Timing(nil))

	var outcomes []model.TaskOutcome
	for i := 1; i <= 20; i++ {
		outcomes = append(outcomes, timed("c", float64(i), true, "", ""))
	}
	outcomes = append(outcomes, model.TaskOutcome{Success: true, Reloaded: true})

	ts := Timing(outcomes)
	assert.Equal(t, 20, ts.Count)
	assert.InDelta(t, 11.0, ts.P50, 1e-9)
	assert.InDelta(t, 20.0, ts.P95, 1e-9)
	assert.InDelta(t, 20.0, ts.Max, 1e-9)

	single := Timing([]model.TaskOutcome{timed("c", 3.5, false, model.CategoryNetwork, "x")})
	assert.Equal(t, TimingStats{P50: 3.5, P95: 3.5, Max: 3.5, Count: 1}, single)
}

func TestErrors(t *testing.T) {
	outcomes := []model.TaskOutcome{
		timed("a", 1, false, model.CategoryNetwork, "Connection timeout"),
		timed("b", 1, false, model.CategoryRateLimit, "429"),
		timed("c", 1, true, "", ""),
		timed("d", 1, false, model.CategoryRateLimit, "429"),
		timed("e", 1, false, model.CategoryNoData, "No jobs found"),
	}
	es := Errors(outcomes, 2)
	assert.Equal(t, 4, es.TotalFailures)
	assert.Equal(t, map[string]int{"network": 1, "rate_limit": 2, "no_data": 1}, es.ByCategory)
	assert.Equal(t, []ErrorCount{{Message: "429", Count: 2}, {Message: "Connection timeout", Count: 1}}, es.TopErrors)

	empty := Errors(nil, 5)
	assert.Zero(t, empty.TotalFailures)
	assert.NotNil(t, empty.TopErrors)
}

func TestSlowest(t *testing.T) {
	outcomes := []model.TaskOutcome{
		timed("a", 4, true, "", ""),
		timed("b", 9, false, model.CategoryNetwork, "timeout"),
		{Task: model.Task{LocationCode: "r"}, Success: true, Reloaded: true},
		timed("c", 6, true, "", ""),
	}
	slow := Slowest(outcomes, 2)
	require.Len(t, slow, 2)
	assert.Equal(t, "b", slow[0].Task.LocationCode)
	assert.Equal(t, "c", slow[1].Task.LocationCode)
	assert.Len(t, Slowest(outcomes, 10), 3)
}

func TestSummarizeAndRoleStats(t *testing.T) {
	outcomes := []model.TaskOutcome{
		timed("a", 2, true, "", ""),
		timed("b", 4, false, model.CategoryNetwork, "timeout"),
		{Task: model.Task{LocationCode: "a", RoleID: "bcba"}, Success: true, RowCount: 3, SalaryRowCount: 3, Reloaded: true},
	}
	st := Summarize(outcomes)
	assert.Equal(t, 3, st.TotalTasks)
	assert.Equal(t, 2, st.Successful)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Reloaded)
	assert.Equal(t, 13, st.TotalJobs)
	assert.Equal(t, 2, st.ByLocation["a"].Tasks)

	rbt := st.ByRole["rbt"]
	assert.Equal(t, 2, rbt.Tasks)
	assert.Equal(t, 1, rbt.Successful)
	assert.InDelta(t, 3.0, rbt.AvgDurationSeconds, 1e-9)
	assert.Zero(t, st.ByRole["bcba"].AvgDurationSeconds)
}

func bandConfig() *config.Config {
	band := map[string]config.Payband{"rbt": {Min: 1, Max: 2}}
	return &config.Config{
		Roles: []config.Role{
			{ID: "rbt", Name: "RBT", PayType: config.PayHourly},
			{ID: "bcba", Name: "BCBA", PayType: config.PaySalary},
		},
		Regions: []config.Region{
			{Name: "R1", Markets: []config.Market{
				{Name: "M1", Paybands: band, Centers: []config.Center{
					{Code: "C1", Name: "One", ZipCode: "1"},
					{Code: "C2", Name: "Two", ZipCode: "2", Paybands: map[string]config.Payband{"bcba": {Min: 5, Max: 6}}},
				}},
			}},
			{Name: "R2", Markets: []config.Market{
				{Name: "M2", Centers: []config.Center{{Code: "C3", Name: "Three", ZipCode: "3"}}},
				{Name: "M3", Paybands: band, Centers: []config.Center{{Code: "C4", Name: "Four", ZipCode: "4"}}},
			}},
		},
	}
}

func TestBuildTasks_KeepsOnlyBandedPairs(t *testing.T) {
	tasks := BuildTasks(bandConfig(), []string{"rbt", "bcba"}, nil)

	var keys []string
	for _, task := range tasks {
		keys = append(keys, task.Key())
	}
	assert.Equal(t, []string{"C1:rbt", "C2:rbt", "C2:bcba", "C4:rbt"}, keys)
	assert.Equal(t, "R2", tasks[3].RegionName)
	assert.Equal(t, "M3", tasks[3].MarketName)
	assert.Equal(t, "4", tasks[3].ZipCode)

	only := BuildTasks(bandConfig(), []string{"bcba"}, nil)
	require.Len(t, only, 1)
	assert.Equal(t, "C2:bcba", only[0].Key())
}

func TestBuildTasks_RandomizedOrderIsAPermutation(t *testing.T) {
	cfg := bandConfig()
	plain := BuildTasks(cfg, []string{"rbt", "bcba"}, nil)
	shuffled := BuildTasks(cfg, []string{"rbt", "bcba"}, rand.New(rand.NewPCG(7, 9)))
	assert.ElementsMatch(t, plain, shuffled)
	assert.Equal(t, "R1", cfg.Regions[0].Name, "shuffling never reorders the configuration")
}

func TestPartition(t *testing.T) {
	tasks := BuildTasks(bandConfig(), []string{"rbt", "bcba"}, nil)
	batches := partition(tasks, 3)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 1)
	assert.Len(t, partition(tasks, 0), 4)
	assert.Empty(t, partition(nil, 2))
}
