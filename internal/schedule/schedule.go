// Package schedule wraps standard 5-field cron parsing with next-fire
// computation and a frequency floor so schedules cannot hammer the system
// more often than once per five minutes.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// MinInterval is the frequency floor for every schedule.
	MinInterval = 5 * time.Minute

	// searchBound caps next-fire computation. A schedule that cannot fire
	// within a year (leap-safe) is treated as invalid.
	searchBound = 366 * 24 * time.Hour
)

// Spec is a parsed cron expression.
type Spec struct {
	expr  string
	sched cron.Schedule
}

// Parse accepts standard 5-field cron (minute hour dom month dow) plus the
// @hourly/@daily/@weekly/@monthly/@yearly aliases. Day-of-week 0 and 7
// both mean Sunday.
func Parse(expr string) (*Spec, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &Spec{expr: expr, sched: sched}, nil
}

// String returns the original expression.
func (s *Spec) String() string { return s.expr }

// Next returns the first fire time strictly after from. Schedules with no
// fire time inside the search bound are rejected.
func (s *Spec) Next(from time.Time) (time.Time, error) {
	next := s.sched.Next(from)
	if next.IsZero() || next.Sub(from) > searchBound {
		return time.Time{}, fmt.Errorf("cron expression %q has no fire time within 366 days", s.expr)
	}
	return next, nil
}

// minGap returns the smallest observed gap between consecutive fires over a
// sample of upcoming activations.
func (s *Spec) minGap(from time.Time) (time.Duration, error) {
	prev, err := s.Next(from)
	if err != nil {
		return 0, err
	}
	min := time.Duration(0)
	for i := 0; i < 20; i++ {
		next := s.sched.Next(prev)
		if next.IsZero() {
			break
		}
		gap := next.Sub(prev)
		if min == 0 || gap < min {
			min = gap
		}
		prev = next
	}
	if min == 0 {
		min = searchBound
	}
	return min, nil
}

// ValidateFrequency enforces the floor on both arguments independently. An
// empty cronExpr and a zero intervalMs each mean "not provided".
func ValidateFrequency(cronExpr string, intervalMs int64) error {
	if intervalMs != 0 && intervalMs < MinInterval.Milliseconds() {
		return fmt.Errorf("interval %dms is too short: minimum is %s", intervalMs, MinInterval)
	}
	if cronExpr != "" {
		spec, err := Parse(cronExpr)
		if err != nil {
			return err
		}
		gap, err := spec.minGap(time.Now())
		if err != nil {
			return err
		}
		if gap < MinInterval {
			return fmt.Errorf("cron expression %q fires every %s: minimum is %s", cronExpr, gap, MinInterval)
		}
	}
	return nil
}
