package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxStepsPerTick is the default node update budget for one State in
// one tick. It only matters for graphs that loop without consuming time.
const DefaultMaxStepsPerTick = 1 << 20

// StepQuota counts node updates within one tick and enforces a limit.
//
// Time-consuming loops are bounded by the tick delta. Zero-time cycles
// (a loop body that never waits) are not, and the quota is what stops them
// from hanging the tick: once it is spent, every remaining thread yields
// where it stands and resumes next tick.
type StepQuota struct {
	max     int
	current int
}

// NewStepQuota creates a quota allowing max updates.
func NewStepQuota(max int) *StepQuota {
	return &StepQuota{max: max}
}

// Take records one step. It returns StepsExceededError once the quota has
// been used up.
func (q *StepQuota) Take() error {
	if q.current >= q.max {
		return &StepsExceededError{Steps: q.current, Limit: q.max}
	}
	q.current++
	return nil
}

// Used returns the number of steps taken.
func (q *StepQuota) Used() int { return q.current }

// Exhausted reports whether no steps remain.
func (q *StepQuota) Exhausted() bool { return q.current >= q.max }

// StepsExceededError is returned when a tick runs out of steps.
type StepsExceededError struct {
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("tick exceeded step quota: %d steps, limit %d", e.Steps, e.Limit)
}

// IsStepsExceededError reports whether err is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
