package batch

import (
	"cmp"
	"slices"

	"jobx-market/internal/model"
)

type RoleStats struct {
	RoleID             string  `json:"role_id"`
	Tasks              int     `json:"tasks"`
	Successful         int     `json:"successful"`
	Jobs               int     `json:"jobs"`
	WithSalary         int     `json:"with_salary"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

type LocationStats struct {
	LocationCode string `json:"location_code"`
	Tasks        int    `json:"tasks"`
	Successful   int    `json:"successful"`
	Jobs         int    `json:"jobs"`
	WithSalary   int    `json:"with_salary"`
}

type SummaryStats struct {
	TotalTasks     int                      `json:"total_tasks"`
	Successful     int                      `json:"successful"`
	Failed         int                      `json:"failed"`
	Reloaded       int                      `json:"reloaded"`
	TotalJobs      int                      `json:"total_jobs"`
	JobsWithSalary int                      `json:"jobs_with_salary"`
	ByRole         map[string]RoleStats     `json:"by_role"`
	ByLocation     map[string]LocationStats `json:"by_location"`
}

type TimingStats struct {
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
	Max   float64 `json:"max_seconds"`
	Count int     `json:"count"`
}

type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type ErrorSummary struct {
	TotalFailures int            `json:"total_failures"`
	ByCategory    map[string]int `json:"by_category"`
	TopErrors     []ErrorCount   `json:"top_errors"`
}

// Summarize totals outcomes overall, per role and per location.
func Summarize(outcomes []model.TaskOutcome) SummaryStats {
	st := SummaryStats{
		TotalTasks: len(outcomes),
		ByRole:     map[string]RoleStats{},
		ByLocation: map[string]LocationStats{},
	}
	for _, id := range roleOrder(outcomes) {
		st.ByRole[id] = RoleSummary(outcomes, id)
	}
	for _, o := range outcomes {
		loc := st.ByLocation[o.Task.LocationCode]
		loc.LocationCode = o.Task.LocationCode
		loc.Tasks++
		if o.Reloaded {
			st.Reloaded++
		}
		if o.Success {
			st.Successful++
			st.TotalJobs += o.RowCount
			st.JobsWithSalary += o.SalaryRowCount
			loc.Successful++
			loc.Jobs += o.RowCount
			loc.WithSalary += o.SalaryRowCount
		} else {
			st.Failed++
		}
		st.ByLocation[o.Task.LocationCode] = loc
	}
	return st
}

func roleOrder(outcomes []model.TaskOutcome) []string {
	var ids []string
	seen := map[string]bool{}
	for _, o := range outcomes {
		if !seen[o.Task.RoleID] {
			seen[o.Task.RoleID] = true
			ids = append(ids, o.Task.RoleID)
		}
	}
	return ids
}

// RoleSummary rolls up the outcomes of one role. The average duration only counts
// timed searches.
func RoleSummary(outcomes []model.TaskOutcome, roleID string) RoleStats {
	rs := RoleStats{RoleID: roleID}
	var total float64
	timed := 0
	for _, o := range outcomes {
		if o.Task.RoleID != roleID {
			continue
		}
		rs.Tasks++
		if o.Success {
			rs.Successful++
			rs.Jobs += o.RowCount
			rs.WithSalary += o.SalaryRowCount
		}
		if o.HasDuration() {
			total += o.Duration()
			timed++
		}
	}
	if timed > 0 {
		rs.AvgDurationSeconds = total / float64(timed)
	}
	return rs
}

// Timing computes p50, p95 and max over outcomes that carry a duration.
func Timing(outcomes []model.TaskOutcome) TimingStats {
	var durations []float64
	for _, o := range outcomes {
		if o.HasDuration() {
			durations = append(durations, o.Duration())
		}
	}
	n := len(durations)
	if n == 0 {
		return TimingStats{}
	}
	slices.Sort(durations)
	return TimingStats{
		P50:   durations[n/2],
		P95:   durations[min(int(float64(n)*0.95), n-1)],
		Max:   durations[n-1],
		Count: n,
	}
}

// Errors counts failures by category and lists the topN most frequent messages.
// Ties keep the order in which messages were first seen.
func Errors(outcomes []model.TaskOutcome, topN int) ErrorSummary {
	es := ErrorSummary{ByCategory: map[string]int{}, TopErrors: []ErrorCount{}}
	index := map[string]int{}
	var counts []ErrorCount
	for _, o := range outcomes {
		if o.Success {
			continue
		}
		es.TotalFailures++
		cat := o.Category
		if cat == "" {
			cat = model.CategoryUnknown
		}
		es.ByCategory[string(cat)]++
		msg := o.Error
		if msg == "" {
			msg = "unknown error"
		}
		if i, ok := index[msg]; ok {
			counts[i].Count++
			continue
		}
		index[msg] = len(counts)
		counts = append(counts, ErrorCount{Message: msg, Count: 1})
	}
	slices.SortStableFunc(counts, func(a, b ErrorCount) int {
		return cmp.Compare(b.Count, a.Count)
	})
	if topN >= 0 && len(counts) > topN {
		counts = counts[:topN]
	}
	es.TopErrors = append(es.TopErrors, counts...)
	return es
}

// Slowest returns the n timed outcomes with the largest duration, success or failure.
func Slowest(outcomes []model.TaskOutcome, n int) []model.TaskOutcome {
	var timed []model.TaskOutcome
	for _, o := range outcomes {
		if o.HasDuration() {
			timed = append(timed, o)
		}
	}
	slices.SortStableFunc(timed, func(a, b model.TaskOutcome) int {
		return cmp.Compare(b.Duration(), a.Duration())
	})
	if n >= 0 && len(timed) > n {
		timed = timed[:n]
	}
	return timed
}

// ByMarket groups outcomes by market name, keeping completion order.
func ByMarket(outcomes []model.TaskOutcome) map[string][]model.TaskOutcome {
	out := map[string][]model.TaskOutcome{}
	for _, o := range outcomes {
		out[o.Task.MarketName] = append(out[o.Task.MarketName], o)
	}
	return out
}
