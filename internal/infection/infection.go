// Package infection realizes disease trajectories and advances per-person
// infection state through them.
package infection

import (
	"fmt"

	"epicore/internal/disease"
	"epicore/internal/simerr"
)

// StageChange is emitted whenever an infection enters a new stage. Time is
// the simulation day the stage was entered.
type StageChange struct {
	Tag  disease.Tag
	Time float64
}

// Infection is the mutable disease state of one person. It is owned by that
// person and must not be advanced from more than one goroutine.
type Infection struct {
	cfg    *disease.Config
	stages []Stage
	curve  *Transmission

	start     float64
	elapsed   float64
	index     int
	remaining float64
	maxTag    disease.Tag
	onset     float64
}

// New builds an Infection starting at simulation day start. A stage tag
// missing from the disease catalogue is a configuration error.
func New(cfg *disease.Config, stages []Stage, curve *Transmission, start float64) (*Infection, error) {
	if len(stages) == 0 {
		return nil, simerr.Invariant("infection.New", "empty trajectory")
	}
	for i, st := range stages {
		if !cfg.Known(st.Tag) {
			return nil, simerr.Config(fmt.Sprintf("%s.trajectory.stage.%d", cfg.Name, i),
				"a catalogued symptom tag", fmt.Sprintf("tag value %d", int(st.Tag)))
		}
	}
	return &Infection{
		cfg:       cfg,
		stages:    stages,
		curve:     curve,
		start:     start,
		remaining: stages[0].Duration,
		maxTag:    stages[0].Tag,
		onset:     onset(cfg, stages),
	}, nil
}

// Advance moves the infection forward by days, consuming any stages whose
// duration runs out, zero-duration stages included, within the same call.
func (i *Infection) Advance(days float64) ([]StageChange, error) {
	if days < 0 {
		return nil, simerr.Invariant("infection.Advance", "negative elapsed time %v", days)
	}
	if days == 0 {
		return nil, nil
	}
	if i.Terminal() {
		return nil, simerr.Invariant("infection.Advance", "infection already terminal at %s", i.cfg.TagName(i.Tag()))
	}

	i.elapsed += days
	i.remaining -= days

	var changes []StageChange
	for i.remaining <= 0 && !i.Terminal() {
		overflow := -i.remaining
		if i.index+1 >= len(i.stages) {
			return changes, simerr.Invariant("infection.Advance", "stage index %d beyond trajectory", i.index+1)
		}
		i.index++
		st := i.stages[i.index]
		i.remaining = st.Duration - overflow
		if st.Tag > i.maxTag {
			i.maxTag = st.Tag
		}
		changes = append(changes, StageChange{Tag: st.Tag, Time: i.start + i.elapsed - overflow})
	}
	return changes, nil
}

// Tag is the current stage's symptom tag.
func (i *Infection) Tag() disease.Tag { return i.stages[i.index].Tag }

// MaxTag is the most severe tag reached so far.
func (i *Infection) MaxTag() disease.Tag { return i.maxTag }

// StageIndex is the position of the current stage in the trajectory.
func (i *Infection) StageIndex() int { return i.index }

// Stages returns a copy of the realized trajectory.
func (i *Infection) Stages() []Stage {
	out := make([]Stage, len(i.stages))
	copy(out, i.stages)
	return out
}

// Start is the simulation day of infection.
func (i *Infection) Start() float64 { return i.start }

// Elapsed is the number of days since infection.
func (i *Infection) Elapsed() float64 { return i.elapsed }

// TimeOfSymptomOnset is the simulation day symptoms start, or -1 when the
// trajectory has no symptomatic stage.
func (i *Infection) TimeOfSymptomOnset() float64 {
	if i.onset < 0 {
		return -1
	}
	return i.start + i.onset
}

func (i *Infection) Terminal() bool  { return i.cfg.Terminal(i.Tag()) }
func (i *Infection) Dead() bool      { return i.cfg.Dead(i.Tag()) }
func (i *Infection) Recovered() bool { return i.cfg.Recovered.Contains(i.Tag()) }

// Symptomatic reports whether the current stage is at or above the
// symptomatic threshold and the person is alive.
func (i *Infection) Symptomatic() bool {
	return i.Tag() >= i.cfg.SymptomaticThreshold && !i.Terminal()
}

// Infectious is false during the lowest (exposed) stage and after the
// infection ends.
func (i *Infection) Infectious() bool {
	return i.Tag() != i.cfg.LowestStage && !i.Terminal()
}

// Infectiousness is the person's current contribution to transmission.
func (i *Infection) Infectiousness() float64 {
	if !i.Infectious() || i.curve == nil {
		return 0
	}
	return i.curve.Infectiousness(i.elapsed)
}

// NeedsHospital reports whether the current stage requires a ward or ICU bed.
func (i *Infection) NeedsHospital() bool { return i.cfg.NeedsHospital(i.Tag()) }

// NeedsICU reports whether the current stage is an intensive care stage.
func (i *Infection) NeedsICU() bool { return i.cfg.IntensiveCare.Contains(i.Tag()) }

// StayAtHome reports whether the current stage keeps the person home.
func (i *Infection) StayAtHome() bool { return i.cfg.StayAtHome.Contains(i.Tag()) }

// SevereAtHome reports whether the current stage is one that keeps a person
// home once severe-symptom stay-home rules apply.
func (i *Infection) SevereAtHome() bool { return i.cfg.SevereStayAtHome.Contains(i.Tag()) }
