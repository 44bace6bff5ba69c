// Package record stores the discrete events a run emits. The simulation
// writes through a Sink and never reads events back.
package record

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Kind names an event type.
type Kind string

const (
	KindInfection         Kind = "infection"
	KindStageChanged      Kind = "stage_changed"
	KindHospitalAdmission Kind = "hospital_admission"
	KindDischarge         Kind = "discharge"
	KindAdmissionRejected Kind = "admission_rejected"
	KindDeath             Kind = "death"
	KindRecovery          Kind = "recovery"
	KindVaccination       Kind = "vaccination"
)

// Event is one recorded occurrence. Time is the simulation day. InfectorID
// and HospitalID are -1 when not applicable.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	PersonID   int       `json:"person_id"`
	Time       float64   `json:"time"`
	Region     string    `json:"region,omitempty"`
	Location   string    `json:"location,omitempty"`
	GroupID    int       `json:"group_id"`
	InfectorID int       `json:"infector_id"`
	HospitalID int       `json:"hospital_id"`
	Tag        string    `json:"tag,omitempty"`
}

// New returns an event with a fresh ID and no infector, group or hospital.
func New(kind Kind, personID int, time float64) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		PersonID:   personID,
		Time:       time,
		GroupID:    -1,
		InfectorID: -1,
		HospitalID: -1,
	}
}

// Sink accepts batches of events.
type Sink interface {
	Record(ctx context.Context, events []Event) error
	Close() error
}

// Memory keeps events in memory. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(_ context.Context, events []Event) error {
	m.mu.Lock()
	m.events = append(m.events, events...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Filter returns the recorded events of kind, in order.
func (m *Memory) Filter(kind Kind) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Counts tallies recorded events by kind.
func (m *Memory) Counts() map[Kind]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Kind]int)
	for _, e := range m.events {
		out[e.Kind]++
	}
	return out
}

// Multi fans a batch out to several sinks. Every sink sees every batch; the
// errors are joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, events []Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
