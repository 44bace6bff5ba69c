// Package world holds the people and social groups the engine runs over.
// Structural assignments (residence, primary activity, region) are fixed when
// the world is built; only per-person disease and presence state changes
// while the simulation runs.
package world

import (
	"sort"

	"epicore/internal/infection"
	"epicore/internal/rates"
)

// Activities a person can be routed to in a time step.
const (
	ActivityResidence = "residence"
	ActivityPrimary   = "primary_activity"
	ActivityLeisure   = "leisure"
	ActivityMedical   = "medical_facility"
	ActivityCommute   = "commute"
)

// Group specs used by the synthetic world and the default interaction config.
const (
	SpecHousehold = "household"
	SpecCareHome  = "care_home"
	SpecSchool    = "school"
	SpecCompany   = "company"
	SpecHospital  = "hospital"
	SpecPub       = "pub"
	SpecCinema    = "cinema"
	SpecGym       = "gym"
	SpecGrocery   = "grocery"
)

// Person is one simulated individual.
type Person struct {
	ID        int
	Age       int
	Sex       rates.Sex
	Region    string
	SuperArea string
	// Sector is the company sector for workers, empty otherwise.
	Sector string

	Residence *Subgroup
	Primary   *Subgroup
	// Medical is the hospital subgroup while admitted.
	Medical *Subgroup
	// Location is where the person is during the current time step.
	Location *Subgroup

	Infection      *infection.Infection
	Susceptibility float64
	// Immunity in [0,1] scales down severe outcomes on infection.
	Immunity   float64
	Vaccinated bool
	Dead       bool
	Recovered  bool
	HospitalID int
}

// CareHomeResident reports whether the person lives in a care home.
func (p *Person) CareHomeResident() bool {
	return p.Residence != nil && p.Residence.Group.Spec == SpecCareHome
}

// Susceptible reports whether the person can be infected.
func (p *Person) Susceptible() bool {
	return !p.Dead && p.Infection == nil && p.Susceptibility > 0
}

// Infected reports whether the person carries an active infection.
func (p *Person) Infected() bool {
	return p.Infection != nil && !p.Infection.Terminal()
}

// Individual is the view trajectory selection reads.
func (p *Person) Individual() infection.Individual {
	return infection.Individual{Age: p.Age, Sex: p.Sex, CareHome: p.CareHomeResident(), Immunity: p.Immunity}
}

// Subgroup is one role within a group (e.g. workers, patients). Members are
// the people assigned to it; present are those in it this time step.
type Subgroup struct {
	Group   *Group
	Index   int
	members []*Person
	present []*Person
}

// Members returns the people structurally assigned to the subgroup.
func (s *Subgroup) Members() []*Person { return s.members }

// Present returns the people in the subgroup this time step, sorted by ID.
func (s *Subgroup) Present() []*Person { return s.present }

// Add assigns p to the subgroup.
func (s *Subgroup) Add(p *Person) { s.members = append(s.members, p) }

func (s *Subgroup) enter(p *Person) { s.present = append(s.present, p) }

// Group is a social location (household, school, venue...).
type Group struct {
	ID        int
	Spec      string
	Region    string
	SuperArea string
	Subgroups []*Subgroup
}

// NewGroup creates a group with n empty subgroups.
func NewGroup(id int, spec, region, superArea string, n int) *Group {
	g := &Group{ID: id, Spec: spec, Region: region, SuperArea: superArea}
	for i := 0; i < n; i++ {
		g.Subgroups = append(g.Subgroups, &Subgroup{Group: g, Index: i})
	}
	return g
}

// Size is the number of people present across all subgroups.
func (g *Group) Size() int {
	n := 0
	for _, sg := range g.Subgroups {
		n += len(sg.present)
	}
	return n
}

// World is the full population and its groups.
type World struct {
	People  []*Person
	Groups  []*Group
	Regions []string

	byID    map[int]*Person
	leisure map[string][]*Group
}

// New indexes people and groups. Leisure venues are grouped by super area.
func New(people []*Person, groups []*Group) *World {
	w := &World{
		People:  people,
		Groups:  groups,
		byID:    make(map[int]*Person, len(people)),
		leisure: make(map[string][]*Group),
	}
	regions := make(map[string]bool)
	for _, p := range people {
		w.byID[p.ID] = p
		if !regions[p.Region] {
			regions[p.Region] = true
			w.Regions = append(w.Regions, p.Region)
		}
	}
	sort.Strings(w.Regions)
	for _, g := range groups {
		if IsLeisure(g.Spec) {
			w.leisure[g.SuperArea] = append(w.leisure[g.SuperArea], g)
		}
	}
	return w
}

// IsLeisure reports whether spec is a leisure venue.
func IsLeisure(spec string) bool {
	switch spec {
	case SpecPub, SpecCinema, SpecGym, SpecGrocery:
		return true
	}
	return false
}

// Person returns the person with id.
func (w *World) Person(id int) (*Person, bool) {
	p, ok := w.byID[id]
	return p, ok
}

// LeisureVenues returns the venues reachable from a super area.
func (w *World) LeisureVenues(superArea string) []*Group {
	return w.leisure[superArea]
}

// ClearPresence empties every subgroup's present list.
func (w *World) ClearPresence() {
	for _, g := range w.Groups {
		for _, sg := range g.Subgroups {
			sg.present = sg.present[:0]
		}
	}
	for _, p := range w.People {
		p.Location = nil
	}
}

// Place puts p into sg for the current time step. A person occupies at most
// one subgroup per step; placing again moves them.
func (w *World) Place(p *Person, sg *Subgroup) {
	if p.Location == sg {
		return
	}
	if p.Location != nil {
		p.Location.remove(p)
	}
	p.Location = sg
	sg.enter(p)
}

func (s *Subgroup) remove(p *Person) {
	for i, q := range s.present {
		if q == p {
			s.present = append(s.present[:i], s.present[i+1:]...)
			return
		}
	}
}

// SortPresence orders each subgroup's present people by ID.
func (w *World) SortPresence() {
	for _, g := range w.Groups {
		for _, sg := range g.Subgroups {
			sort.Slice(sg.present, func(i, j int) bool { return sg.present[i].ID < sg.present[j].ID })
		}
	}
}

// ActiveGroups returns the groups with anyone present, in ID order.
func (w *World) ActiveGroups() []*Group {
	var out []*Group
	for _, g := range w.Groups {
		if g.Size() > 0 {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts summarises the population's disease state.
type Counts struct {
	Susceptible  int
	Infected     int
	Recovered    int
	Dead         int
	Hospitalised int
	ICU          int
}

// Count tallies every person.
func (w *World) Count() Counts {
	var c Counts
	for _, p := range w.People {
		switch {
		case p.Dead:
			c.Dead++
		case p.Infected():
			c.Infected++
			if p.Medical != nil {
				if p.Infection.NeedsICU() {
					c.ICU++
				} else {
					c.Hospitalised++
				}
			}
		case p.Recovered:
			c.Recovered++
		default:
			c.Susceptible++
		}
	}
	return c
}
