package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"jobx-market/internal/model"
	"jobx-market/internal/search"
)

type recordingSleep struct {
	calls []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func fixedJitter(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

func rows(n, withSalary int) *search.Table {
	t := &search.Table{}
	for i := 0; i < n; i++ {
		p := search.Posting{Title: "job"}
		if i < withSalary {
			v := 50000.0
			p.MinAmount = &v
		}
		t.Postings = append(t.Postings, p)
	}
	return t
}

// scripted returns each response in turn and repeats the last one.
func scripted(responses ...func() (*search.Table, error)) (SearchFunc, *int) {
	calls := 0
	return func(context.Context, model.Task) (*search.Table, error) {
		i := min(calls, len(responses)-1)
		calls++
		return responses[i]()
	}, &calls
}

func ok(n, salary int) func() (*search.Table, error) {
	return func() (*search.Table, error) { return rows(n, salary), nil }
}

func fail(msg string) func() (*search.Table, error) {
	return func() (*search.Table, error) { return nil, errors.New(msg) }
}

var task = model.Task{RoleID: "rbt", LocationCode: "HOU-001", LocationName: "Houston", ZipCode: "77001"}

func TestRun_SuccessOnFirstAttempt(t *testing.T) {
	fn, calls := scripted(ok(10, 3))
	s := &recordingSleep{}
	c := &Controller{Search: fn, MaxRetries: 3, Sleep: s.sleep}

	res := c.Run(context.Background(), task)

	require.True(t, res.Outcome.Success)
	assert.Equal(t, 10, res.Outcome.RowCount)
	assert.Equal(t, 3, res.Outcome.SalaryRowCount)
	assert.Equal(t, 1, res.Outcome.Attempts)
	assert.True(t, res.Outcome.HasDuration())
	assert.Empty(t, res.Outcome.Category)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, s.calls)
	assert.Equal(t, 10, res.Table.Len())
}

func TestRun_SuccessOnSecondAttempt(t *testing.T) {
	fn, calls := scripted(fail("Connection timeout"), ok(10, 5))
	s := &recordingSleep{}
	c := &Controller{Search: fn, MaxRetries: 3, Sleep: s.sleep, Jitter: fixedJitter(0)}

	res := c.Run(context.Background(), task)

	require.True(t, res.Outcome.Success)
	assert.Equal(t, 2, res.Outcome.Attempts)
	assert.Equal(t, 2, *calls)
	assert.Len(t, s.calls, 1)
}

func TestRun_ExhaustedRetries(t *testing.T) {
	fn, calls := scripted(fail("Server error"))
	s := &recordingSleep{}
	c := &Controller{Search: fn, MaxRetries: 2, Sleep: s.sleep}

	res := c.Run(context.Background(), task)

	require.False(t, res.Outcome.Success)
	assert.Equal(t, "Server error", res.Outcome.Error)
	assert.Equal(t, model.CategoryUnknown, res.Outcome.Category)
	assert.Equal(t, 2, res.Outcome.Attempts)
	assert.Equal(t, 2, *calls)
	assert.Len(t, s.calls, 1)
	assert.Nil(t, res.Table)
}

func TestRun_NoDataIsNotRetried(t *testing.T) {
	fn, calls := scripted(fail("No jobs found"))
	s := &recordingSleep{}
	c := &Controller{Search: fn, MaxRetries: 3, Sleep: s.sleep}

	res := c.Run(context.Background(), task)

	require.False(t, res.Outcome.Success)
	assert.Equal(t, model.CategoryNoData, res.Outcome.Category)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, s.calls)
}

func TestRun_EmptyTableCountsAsNoData(t *testing.T) {
	fn, calls := scripted(func() (*search.Table, error) { return &search.Table{}, nil })
	c := &Controller{Search: fn, MaxRetries: 3, Sleep: (&recordingSleep{}).sleep}

	res := c.Run(context.Background(), task)

	require.False(t, res.Outcome.Success)
	assert.Equal(t, model.CategoryNoData, res.Outcome.Category)
	assert.Equal(t, ErrNoJobs.Error(), res.Outcome.Error)
	assert.Equal(t, 1, *calls)
}

func TestRun_ExponentialBackoffTiming(t *testing.T) {
	fn, calls := scripted(fail("Timeout"))
	s := &recordingSleep{}
	c := &Controller{
		Search:      fn,
		MaxRetries:  3,
		BaseBackoff: 10 * time.Second,
		Jitter:      fixedJitter(5 * time.Second),
		Sleep:       s.sleep,
	}

	res := c.Run(context.Background(), task)

	assert.Equal(t, model.CategoryNetwork, res.Outcome.Category)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{15 * time.Second, 25 * time.Second}, s.calls)
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	c := &Controller{
		Search: func(context.Context, model.Task) (*search.Table, error) {
			panic("selector missing")
		},
		MaxRetries: 2,
		Sleep:      (&recordingSleep{}).sleep,
	}

	res := c.Run(context.Background(), task)

	require.False(t, res.Outcome.Success)
	assert.Contains(t, res.Outcome.Error, "panic: selector missing")
	assert.Equal(t, 2, res.Outcome.Attempts)
}

func TestRun_ZeroMaxRetriesStillAttemptsOnce(t *testing.T) {
	fn, calls := scripted(fail("connection refused"))
	c := &Controller{Search: fn, MaxRetries: 0, Sleep: (&recordingSleep{}).sleep}

	res := c.Run(context.Background(), task)

	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, res.Outcome.Attempts)
}

func TestRun_CancelledSleepStopsRetrying(t *testing.T) {
	fn, calls := scripted(fail("HTTP 429"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Controller{Search: fn, MaxRetries: 5, Jitter: fixedJitter(0)}

	res := c.Run(ctx, task)

	assert.Equal(t, 1, *calls)
	assert.Equal(t, model.CategoryRateLimit, res.Outcome.Category)
}

func TestRun_LimiterGatesAttempts(t *testing.T) {
	fn, calls := scripted(ok(1, 0))
	c := &Controller{Search: fn, MaxRetries: 1, Limiter: rate.NewLimiter(rate.Inf, 1)}

	res := c.Run(context.Background(), task)

	assert.True(t, res.Outcome.Success)
	assert.Equal(t, 1, *calls)
}

func TestSearchBackOffSchedule(t *testing.T) {
	b := NewSearchBackOff(time.Second, fixedJitter(0), 4)
	assert.Equal(t, 1*time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	assert.Equal(t, backoff.Stop, NewSearchBackOff(time.Second, nil, 1).NextBackOff())
}

func TestUniformJitterBounds(t *testing.T) {
	j := UniformJitter(50 * time.Millisecond)
	for i := 0; i < 100; i++ {
		d := j()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 50*time.Millisecond)
	}
	assert.Zero(t, UniformJitter(0)())
}
