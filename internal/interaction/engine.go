// Package interaction turns co-presence in a group into new infections using
// per-spec contact matrices.
package interaction

import (
	"fmt"
	"math"
	"math/rand/v2"

	"epicore/internal/simerr"
	"epicore/internal/world"
)

// Infector is an infectious person present in a group with their current
// infectiousness.
type Infector struct {
	Person         *world.Person
	Infectiousness float64
}

// InteractiveGroup is the per-step snapshot of one group: who is present in
// each subgroup, split into infectious and susceptible, in ID order.
type InteractiveGroup struct {
	Group       *world.Group
	infectors   [][]Infector
	susceptible [][]*world.Person
	present     []int
}

// NewInteractiveGroup snapshots g's present members. The present lists must
// already be in ID order.
func NewInteractiveGroup(g *world.Group) *InteractiveGroup {
	n := len(g.Subgroups)
	ig := &InteractiveGroup{
		Group:       g,
		infectors:   make([][]Infector, n),
		susceptible: make([][]*world.Person, n),
		present:     make([]int, n),
	}
	for i, sg := range g.Subgroups {
		for _, p := range sg.Present() {
			ig.present[i]++
			switch {
			case p.Dead:
			case p.Infection != nil:
				if v := p.Infection.Infectiousness(); v > 0 {
					ig.infectors[i] = append(ig.infectors[i], Infector{Person: p, Infectiousness: v})
				}
			case p.Susceptible():
				ig.susceptible[i] = append(ig.susceptible[i], p)
			}
		}
	}
	return ig
}

// Infectors returns the infectious people present in subgroup i.
func (ig *InteractiveGroup) Infectors(i int) []Infector { return ig.infectors[i] }

// Susceptible returns the susceptible people present in subgroup i.
func (ig *InteractiveGroup) Susceptible(i int) []*world.Person { return ig.susceptible[i] }

// Degenerate reports whether the group cannot transmit this step: nobody is
// infectious or nobody is susceptible.
func (ig *InteractiveGroup) Degenerate() bool {
	var inf, sus bool
	for i := range ig.infectors {
		inf = inf || len(ig.infectors[i]) > 0
		sus = sus || len(ig.susceptible[i]) > 0
	}
	return !inf || !sus
}

// Exposure is one susceptible person's infection probability for a step,
// with the hazard each infector contributed.
type Exposure struct {
	Person      *world.Person
	Hazard      float64
	Probability float64
	infectors   []*world.Person
	hazards     []float64
}

// Case is a new infection produced by a time step.
type Case struct {
	Person   *world.Person
	Infector *world.Person
	Group    *world.Group
}

// Engine evaluates groups against an interaction configuration. It holds no
// mutable state and may be shared between goroutines.
type Engine struct {
	cfg *Config
}

func NewEngine(cfg *Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() *Config { return e.cfg }

// Probabilities computes the exposure of every susceptible person in ig.
// betaMultiplier is the product of the active policy factors for the group's
// spec and region; stepHours is the time step length.
func (e *Engine) Probabilities(ig *InteractiveGroup, betaMultiplier, stepHours float64) ([]Exposure, error) {
	if ig.Degenerate() {
		return nil, nil
	}
	spec := ig.Group.Spec
	m, ok := e.cfg.ContactMatrices[spec]
	if !ok || m == nil {
		return nil, simerr.Config("interaction.contact_matrices."+spec, "a contact matrix for the group spec", "none")
	}
	scale := e.cfg.Beta(spec) * betaMultiplier * stepHours / m.CharacteristicTime

	var out []Exposure
	for i, sus := range ig.susceptible {
		if len(sus) == 0 {
			continue
		}
		for _, s := range sus {
			out = append(out, Exposure{Person: s})
		}
		row := out[len(out)-len(sus):]
		for j, infs := range ig.infectors {
			if len(infs) == 0 {
				continue
			}
			if i >= len(m.Contacts) || j >= len(m.Contacts[i]) {
				return nil, simerr.Config(fmt.Sprintf("interaction.contact_matrices.%s.contacts.%d.%d", spec, i, j),
					"a contact rate for every present subgroup pair", "missing entry")
			}
			c := m.Contacts[i][j]
			if m.NormaliseBySize {
				size := ig.present[j]
				if i == j {
					size--
				}
				if size <= 0 {
					continue
				}
				c /= float64(size)
			}
			p := m.physical(i, j)
			pair := c * (p*e.cfg.AlphaPhysical + (1 - p)) * scale
			for k := range row {
				susc := row[k].Person.Susceptibility * e.cfg.Susceptibility(row[k].Person.Age)
				for _, inf := range infs {
					h := pair * inf.Infectiousness * susc
					row[k].Hazard += h
					row[k].infectors = append(row[k].infectors, inf.Person)
					row[k].hazards = append(row[k].hazards, h)
				}
			}
		}
	}
	for k := range out {
		out[k].Probability = 1 - math.Exp(-out[k].Hazard)
	}
	return out, nil
}

// TimeStep draws infections for one group. One uniform is drawn per
// susceptible person in subgroup then ID order; an infected person's infector
// is chosen with probability proportional to their hazard contribution.
func (e *Engine) TimeStep(ig *InteractiveGroup, betaMultiplier, stepHours float64, r *rand.Rand) ([]Case, error) {
	exposures, err := e.Probabilities(ig, betaMultiplier, stepHours)
	if err != nil {
		return nil, err
	}
	var cases []Case
	for _, ex := range exposures {
		if r.Float64() >= ex.Probability {
			continue
		}
		cases = append(cases, Case{Person: ex.Person, Infector: ex.infector(r), Group: ig.Group})
	}
	return cases, nil
}

func (m *ContactMatrix) physical(i, j int) float64 {
	if i < len(m.ProportionPhysical) && j < len(m.ProportionPhysical[i]) {
		return m.ProportionPhysical[i][j]
	}
	return 0
}

func (ex Exposure) infector(r *rand.Rand) *world.Person {
	if len(ex.infectors) == 0 {
		return nil
	}
	u := r.Float64() * ex.Hazard
	for i, h := range ex.hazards {
		if u < h {
			return ex.infectors[i]
		}
		u -= h
	}
	return ex.infectors[len(ex.infectors)-1]
}
