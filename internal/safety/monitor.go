// Package safety holds the safe-mode helpers: a persisted search monitor that
// decides when to pause, and a scheduler that paces searches like a person would.
package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"jobx-market/internal/runstore"
)

const (
	MonitorFileName = "search_monitor.json"
	maxFailureLog   = 100
)

type Failure struct {
	Time     time.Time `json:"time"`
	Location string    `json:"location"`
	Error    string    `json:"error,omitempty"`
}

type LocationStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	JobsFound int `json:"jobs_found"`
}

type MonitorStats struct {
	Locations       map[string]*LocationStats `json:"locations"`
	FailurePatterns []Failure                 `json:"failure_patterns"`
	LastSuccess     *time.Time                `json:"last_success"`
	TotalSearches   int                       `json:"total_searches"`
	TotalFailures   int                       `json:"total_failures"`
	SessionStart    time.Time                 `json:"session_start"`
}

// Monitor tracks search outcomes across runs in search_monitor.json.
type Monitor struct {
	mu    sync.Mutex
	path  string
	stats MonitorStats
	now   func() time.Time
}

func OpenMonitor(outputDir string) (*Monitor, error) {
	return openMonitor(outputDir, time.Now)
}

func openMonitor(outputDir string, now func() time.Time) (*Monitor, error) {
	m := &Monitor{
		path: filepath.Join(outputDir, MonitorFileName),
		now:  now,
		stats: MonitorStats{
			Locations:       map[string]*LocationStats{},
			FailurePatterns: []Failure{},
			SessionStart:    now(),
		},
	}
	if _, err := os.Stat(m.path); err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("stat search monitor %s: %w", m.path, err)
	}
	if err := runstore.ReadJSON(m.path, &m.stats); err != nil {
		return nil, err
	}
	if m.stats.Locations == nil {
		m.stats.Locations = map[string]*LocationStats{}
	}
	return m, nil
}

// RecordSearch adds one search result and persists the stats.
func (m *Monitor) RecordSearch(location string, success bool, jobsFound int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.stats.TotalSearches++
	if success {
		m.stats.LastSuccess = &now
	} else {
		m.stats.TotalFailures++
		m.stats.FailurePatterns = append(m.stats.FailurePatterns, Failure{Time: now, Location: location, Error: errMsg})
		if n := len(m.stats.FailurePatterns); n > maxFailureLog {
			m.stats.FailurePatterns = append([]Failure(nil), m.stats.FailurePatterns[n-maxFailureLog:]...)
		}
	}

	loc := m.stats.Locations[location]
	if loc == nil {
		loc = &LocationStats{}
		m.stats.Locations[location] = loc
	}
	loc.Attempts++
	if success {
		loc.Successes++
		loc.JobsFound += jobsFound
	} else {
		loc.Failures++
	}
	return runstore.WriteJSON(m.path, m.stats)
}

// ShouldPause reports whether recent failures look like the scraper is being blocked.
func (m *Monitor) ShouldPause() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	recent := 0
	for _, f := range m.stats.FailurePatterns {
		if f.Time.After(now.Add(-time.Hour)) {
			recent++
		}
	}
	if recent > 5 {
		return true, fmt.Sprintf("Too many recent failures (%d in last hour)", recent)
	}

	if n := len(m.stats.FailurePatterns); n >= 3 {
		last := m.stats.FailurePatterns[n-3:]
		if last[2].Time.Sub(last[0].Time) < 5*time.Minute {
			return true, "3 consecutive failures within 5 minutes"
		}
	}

	if m.stats.TotalSearches > 20 {
		rate := float64(m.stats.TotalFailures) / float64(m.stats.TotalSearches)
		if rate > 0.3 {
			return true, fmt.Sprintf("High failure rate: %.1f%%", rate*100)
		}
	}
	return false, "OK"
}

func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stats
	out.FailurePatterns = append([]Failure(nil), m.stats.FailurePatterns...)
	out.Locations = make(map[string]*LocationStats, len(m.stats.Locations))
	for k, v := range m.stats.Locations {
		cp := *v
		out.Locations[k] = &cp
	}
	return out
}

func (m *Monitor) Summary() string {
	st := m.Stats()
	if st.TotalSearches == 0 {
		return "No searches recorded yet"
	}
	successRate := float64(st.TotalSearches-st.TotalFailures) / float64(st.TotalSearches) * 100
	lastSuccess := "Never"
	if st.LastSuccess != nil {
		lastSuccess = st.LastSuccess.Format(time.RFC3339)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "total searches: %d\n", st.TotalSearches)
	fmt.Fprintf(&b, "success rate: %.1f%%\n", successRate)
	fmt.Fprintf(&b, "last success: %s\n", lastSuccess)
	fmt.Fprintf(&b, "unique locations: %d\n", len(st.Locations))
	fmt.Fprintf(&b, "session start: %s\n", st.SessionStart.Format(time.RFC3339))
	return b.String()
}
