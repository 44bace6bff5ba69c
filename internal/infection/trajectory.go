package infection

import (
	"math"
	"math/rand/v2"

	"epicore/internal/disease"
	"epicore/internal/dist"
	"epicore/internal/rates"
	"epicore/internal/simerr"
)

// Stage is one realized stage of a trajectory.
type Stage struct {
	Tag      disease.Tag
	Duration float64
}

// Individual carries the person attributes trajectory selection reads.
type Individual struct {
	Age      int
	Sex      rates.Sex
	CareHome bool
	// Immunity in [0,1] scales down the mass of severe outcomes.
	Immunity float64
}

// Selector picks and realizes trajectories for newly infected people.
type Selector struct {
	cfg   *disease.Config
	index *rates.HealthIndex
}

func NewSelector(cfg *disease.Config, index *rates.HealthIndex) *Selector {
	return &Selector{cfg: cfg, index: index}
}

// Config returns the disease configuration the selector was built with.
func (s *Selector) Config() *disease.Config { return s.cfg }

// SelectTrajectory draws one uniform variate against the individual's
// cumulative branch probabilities and returns the template whose most severe
// stage is the selected branch. Mass beyond the cumulative total selects the
// default outcome.
func (s *Selector) SelectTrajectory(ind Individual, r *rand.Rand) (*disease.Template, error) {
	o := s.index.Probabilities(ind.Age, ind.Sex, ind.CareHome)
	if ind.Immunity > 0 {
		o = s.index.ApplyEffectiveMultiplier(o, 1-ind.Immunity)
	}
	tag, ok := o.Select(r.Float64())
	if !ok {
		tag = s.cfg.DefaultOutcome
	}
	tpl, ok := s.cfg.TemplateFor(tag)
	if !ok {
		return nil, simerr.Config("trajectories", "a trajectory whose most severe stage is "+s.cfg.TagName(tag), "none")
	}
	return tpl, nil
}

// Realize samples every stage duration of tpl independently. The terminal
// stage always lasts zero days.
func Realize(tpl *disease.Template, r *rand.Rand) ([]Stage, error) {
	stages := make([]Stage, len(tpl.Stages))
	last := len(tpl.Stages) - 1
	for i, st := range tpl.Stages {
		stages[i].Tag = st.Tag
		if i == last {
			continue
		}
		d := dist.NonNegative(st.Completion, r)
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return nil, simerr.Invariant("infection.Realize", "stage %d sampled duration %v from %s", i, d, st.Completion)
		}
		stages[i].Duration = d
	}
	return stages, nil
}

// onset returns the days from infection until the first stage at or above
// the symptomatic threshold, or -1 when the trajectory never reaches one.
func onset(cfg *disease.Config, stages []Stage) float64 {
	t := 0.0
	for _, st := range stages {
		if st.Tag >= cfg.SymptomaticThreshold && !cfg.Terminal(st.Tag) {
			return t
		}
		t += st.Duration
	}
	return -1
}

// Infect selects a trajectory for ind, realizes it and instantiates the
// transmission curve, returning an Infection that starts at now (days).
func (s *Selector) Infect(ind Individual, now float64, r *rand.Rand) (*Infection, error) {
	tpl, err := s.SelectTrajectory(ind, r)
	if err != nil {
		return nil, err
	}
	stages, err := Realize(tpl, r)
	if err != nil {
		return nil, err
	}
	curve := NewTransmission(s.cfg, tpl.MaxTag, onset(s.cfg, stages), r)
	return New(s.cfg, stages, curve, now)
}
