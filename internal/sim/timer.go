package sim

import (
	"time"

	"epicore/internal/config"
)

// Timer is the simulation clock. Each calendar day is split into the steps
// of its weekday or weekend schedule; Now is measured in days from the start.
type Timer struct {
	start   time.Time
	total   float64
	weekday config.StepConfig
	weekend config.StepConfig

	day   int
	hours float64
	step  int
}

func NewTimer(start time.Time, totalDays float64, weekday, weekend config.StepConfig) *Timer {
	return &Timer{start: start, total: totalDays, weekday: weekday, weekend: weekend}
}

// Now is the current simulation time in days.
func (t *Timer) Now() float64 { return float64(t.day) + t.hours/24 }

// Date is the calendar time of the current step.
func (t *Timer) Date() time.Time {
	return t.start.AddDate(0, 0, t.day).Add(time.Duration(t.hours * float64(time.Hour)))
}

// Weekend reports whether the current day is a Saturday or Sunday.
func (t *Timer) Weekend() bool {
	switch t.start.AddDate(0, 0, t.day).Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	return false
}

func (t *Timer) schedule() config.StepConfig {
	if t.Weekend() {
		return t.weekend
	}
	return t.weekday
}

// Duration is the length of the current step in hours.
func (t *Timer) Duration() float64 { return t.schedule().StepDuration[t.step] }

// Activities lists the current step's activities in priority order.
func (t *Timer) Activities() []string { return t.schedule().StepActivities[t.step] }

// FirstStepOfDay reports whether the current step opens a new day.
func (t *Timer) FirstStepOfDay() bool { return t.step == 0 }

// Advance moves to the next step, rolling over to the next day after the
// last step.
func (t *Timer) Advance() {
	sched := t.schedule()
	t.hours += sched.StepDuration[t.step]
	t.step++
	if t.step >= len(sched.StepDuration) {
		t.day++
		t.hours = 0
		t.step = 0
	}
}

// Done reports whether the run has reached its horizon.
func (t *Timer) Done() bool { return t.Now() >= t.total }
