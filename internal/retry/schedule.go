// Package retry implements the consumer's retry-schedule parsing: an
// ordered list of (intervalSeconds, remainingAttempts) pairs, each
// consumed in turn as refreshes fail.
package retry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Forever marks a schedule step with unlimited remaining attempts.
const Forever = -1

// Step is one (interval, remainingAttempts) pair of a retry schedule.
type Step struct {
	Interval time.Duration
	Remaining int // Forever for unlimited
}

// Schedule is an ordered list of Steps, plus a cursor tracking which step
// is currently being consumed. The last step may have Remaining == Forever.
type Schedule struct {
	steps []Step
	initial []int // original Remaining values, for Reset
	cur int
}

// Parse parses the textual retry directive, e.g. "60 +" (retry every 60s
// forever) or "60 5 300 5 3600 +" (5 tries every minute, then 5 tries every
// 5 minutes, then hourly forever).
func Parse(spec string) (*Schedule, error) {
	fields := strings.Fields(spec)
	if len(fields) == 0 || len(fields)%2 != 0 {
		return nil, fmt.Errorf("retry: malformed schedule %q", spec)
	}

	steps := make([]Step, 0, len(fields)/2)

	for i := 0; i < len(fields); i += 2 {
		secs, err := strconv.Atoi(fields[i])
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("retry: invalid interval %q: %w", fields[i], err)
		}

		remaining, err := parseRemaining(fields[i+1])
		if err != nil {
			return nil, err
		}

		steps = append(steps, Step{Interval: time.Duration(secs) * time.Second, Remaining: remaining})
	}

	for i, s := range steps[:len(steps)-1] {
		if s.Remaining == Forever {
			return nil, fmt.Errorf("retry: only the last step may have unlimited attempts (step %d)", i)
		}
	}

	initial := make([]int, len(steps))
	for i, s := range steps {
		initial[i] = s.Remaining
	}

	return &Schedule{steps: steps, initial: initial}, nil
}

func parseRemaining(field string) (int, error) {
	if field == "+" {
		return Forever, nil
	}

	n, err := strconv.Atoi(field)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("retry: invalid attempt count %q", field)
	}

	return n, nil
}

// Current returns the interval to wait before the next retry, and whether
// the schedule is exhausted (all steps consumed).
func (s *Schedule) Current() (time.Duration, bool) {
	if s.cur >= len(s.steps) {
		return 0, true
	}

	return s.steps[s.cur].Interval, false
}

// Consume records one failure against the current step, advancing to the
// next step once the current one's attempts are exhausted. On each
// failure the current pair is consumed; when its counter reaches zero
// the next pair becomes current; when all pairs are exhausted the
// source is removed.
func (s *Schedule) Consume() {
	if s.cur >= len(s.steps) {
		return
	}

	if s.steps[s.cur].Remaining == Forever {
		return
	}

	s.steps[s.cur].Remaining--
	if s.steps[s.cur].Remaining <= 0 {
		s.cur++
	}
}

// Exhausted reports whether every step has been consumed.
func (s *Schedule) Exhausted() bool {
	return s.cur >= len(s.steps)
}

// Reset restores every step's Remaining to its initial value and rewinds
// the cursor. Any successful refresh that reaches refreshDone resets all
// remaining values to their initial values.
func (s *Schedule) Reset() {
	for i := range s.steps {
		s.steps[i].Remaining = s.initial[i]
	}

	s.cur = 0
}
