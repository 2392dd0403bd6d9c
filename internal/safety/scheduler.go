package safety

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

type window struct {
	startMin, endMin int
}

func (w window) contains(minute int) bool {
	return minute >= w.startMin && minute <= w.endMin
}

func (w window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.startMin/60, w.startMin%60, w.endMin/60, w.endMin%60)
}

func hm(h, m int) int { return h*60 + m }

var (
	peakWindows = []window{
		{hm(9, 0), hm(11, 30)},
		{hm(12, 30), hm(14, 30)},
		{hm(16, 0), hm(18, 0)},
		{hm(19, 30), hm(21, 30)},
	}
	quietWindow      = window{hm(2, 0), hm(6, 0)}
	acceptableWindow = window{hm(6, 0), hm(22, 0)}
)

const (
	weekdayMultiplier  = 1.0
	saturdayMultiplier = 0.7
	sundayMultiplier   = 0.5
)

// Scheduler paces searches by local time of day and day of week.
type Scheduler struct {
	Now  func() time.Time
	Rand *rand.Rand
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		Now:  time.Now,
		Rand: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6a6f6278)),
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Scheduler) uniform(lo, hi float64) float64 {
	if s.Rand == nil {
		return lo + rand.Float64()*(hi-lo)
	}
	return lo + s.Rand.Float64()*(hi-lo)
}

// IsGoodTime reports whether t falls in a window where searching blends in.
func (s *Scheduler) IsGoodTime(t time.Time) (bool, string) {
	minute := t.Hour()*60 + t.Minute()
	if quietWindow.contains(minute) {
		return false, "Too early - wait until business hours"
	}
	for _, w := range peakWindows {
		if w.contains(minute) {
			return true, "Peak hour window: " + w.String()
		}
	}
	if acceptableWindow.contains(minute) {
		if isWeekend(t) {
			return true, "Weekend hours (lower traffic expected)"
		}
		return true, "Weekday off-peak (acceptable)"
	}
	return false, "Outside optimal search hours"
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

func (s *Scheduler) DelayMultiplier(t time.Time) float64 {
	switch t.Weekday() {
	case time.Saturday:
		return saturdayMultiplier
	case time.Sunday:
		return sundayMultiplier
	default:
		return weekdayMultiplier
	}
}

// HumanDelay scales base by the day multiplier and adds typing and reading time,
// with an occasional longer distraction.
func (s *Scheduler) HumanDelay(base time.Duration) time.Duration {
	seconds := base.Seconds()*s.DelayMultiplier(s.now()) +
		s.uniform(0.5, 2.0) +
		s.uniform(2.0, 5.0)
	if s.uniform(0, 1) < 0.1 {
		seconds += s.uniform(10, 30)
	}
	return time.Duration(seconds * float64(time.Second))
}

// WaitForGoodTime blocks until IsGoodTime holds, checking roughly every 30 minutes.
func (s *Scheduler) WaitForGoodTime(ctx context.Context, sleep func(context.Context, time.Duration) error, notify func(reason string, wait time.Duration)) error {
	for {
		ok, reason := s.IsGoodTime(s.now())
		if ok {
			return nil
		}
		wait := time.Duration(25+s.uniform(0, 10)) * time.Minute
		if notify != nil {
			notify(reason, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}
