package model

import "fmt"

// ErrorCategory is the closed set of failure classes a search can end in.
type ErrorCategory string

const (
	CategoryNetwork    ErrorCategory = "network"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryNoData     ErrorCategory = "no_data"
	CategoryParseError ErrorCategory = "parse_error"
	CategoryAuthBlock  ErrorCategory = "auth_block"
	CategoryUnknown    ErrorCategory = "unknown"
)

// Categories lists every category in classification order.
var Categories = []ErrorCategory{
	CategoryRateLimit,
	CategoryNetwork,
	CategoryNoData,
	CategoryParseError,
	CategoryAuthBlock,
	CategoryUnknown,
}

// Task is one (location, role) search unit. It is never mutated after creation.
type Task struct {
	RoleID       string   `json:"role_id"`
	RoleName     string   `json:"role_name"`
	LocationCode string   `json:"location_code"`
	LocationName string   `json:"location_name"`
	ZipCode      string   `json:"zip_code"`
	MarketName   string   `json:"market_name"`
	RegionName   string   `json:"region_name"`
	SearchTerms  []string `json:"search_terms,omitempty"`
}

// Key returns the checkpoint identity of the task.
func (t Task) Key() string {
	return TaskKey(t.LocationCode, t.RoleID)
}

func (t Task) String() string {
	return fmt.Sprintf("%s (%s) / %s", t.LocationName, t.ZipCode, t.RoleName)
}

// TaskKey builds the "<location_code>:<role_id>" identity used by the checkpoint.
func TaskKey(locationCode, roleID string) string {
	return locationCode + ":" + roleID
}

// TaskOutcome is the terminal record of one task in a run.
type TaskOutcome struct {
	Task            Task          `json:"task"`
	Success         bool          `json:"success"`
	RowCount        int           `json:"row_count"`
	SalaryRowCount  int           `json:"salary_row_count"`
	Error           string        `json:"error,omitempty"`
	Category        ErrorCategory `json:"category,omitempty"`
	DurationSeconds *float64      `json:"duration_seconds,omitempty"`
	Attempts        int           `json:"attempts"`
	ArtifactPath    string        `json:"artifact_path,omitempty"`
	Reloaded        bool          `json:"reloaded,omitempty"`
}

// HasDuration reports whether the outcome was timed in this run.
func (o TaskOutcome) HasDuration() bool {
	return o.DurationSeconds != nil
}

// Duration returns the measured duration or zero.
func (o TaskOutcome) Duration() float64 {
	if o.DurationSeconds == nil {
		return 0
	}
	return *o.DurationSeconds
}

// Seconds is a small helper for building outcomes with a duration.
func Seconds(v float64) *float64 {
	return &v
}
