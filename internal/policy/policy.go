// Package policy resolves time-windowed interventions into the modifiers the
// engine applies on a given date. Each policy is a tagged variant: a kind
// name, its class and a kind-specific parameter payload.
package policy

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"time"

	"epicore/internal/simerr"
	"epicore/internal/world"
)

// Policy is one configured intervention. End is exclusive; a zero Start or
// End leaves that side of the window open.
type Policy struct {
	Kind   string
	Class  Class
	Start  time.Time
	End    time.Time
	Params any
}

// IsActive reports whether date falls in [Start, End).
func (p Policy) IsActive(date time.Time) bool {
	if !p.Start.IsZero() && date.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && !date.Before(p.End) {
		return false
	}
	return true
}

func (p Policy) String() string {
	return fmt.Sprintf("%s[%s, %s)", p.Kind, p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
}

// NewPolicy builds a policy of kind with params, checking that params is the
// kind's payload type.
func NewPolicy(kind string, start, end time.Time, params any) (Policy, error) {
	spec, ok := kinds[kind]
	if !ok {
		return Policy{}, simerr.Config("policy."+kind, "a known policy kind", fmt.Sprintf("%q", kind))
	}
	def, _ := spec.decode(nil)
	if params == nil {
		params = def
	}
	if fmt.Sprintf("%T", params) != fmt.Sprintf("%T", def) {
		return Policy{}, simerr.Config("policy."+kind, fmt.Sprintf("parameters of type %T", def), fmt.Sprintf("%T", params))
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return Policy{}, simerr.Config("policy."+kind, "start_time before end_time",
			fmt.Sprintf("%s to %s", start.Format(time.DateOnly), end.Format(time.DateOnly)))
	}
	return Policy{Kind: kind, Class: spec.class, Start: start, End: end, Params: params}, nil
}

// Policies is the immutable set of configured policies for a run.
type Policies struct {
	list []Policy
}

// New collects policies. Order is preserved; later regional policies
// override earlier ones for the same region.
func New(policies ...Policy) *Policies {
	return &Policies{list: append([]Policy(nil), policies...)}
}

// All returns every configured policy.
func (ps *Policies) All() []Policy { return ps.list }

// Len is the number of configured policies.
func (ps *Policies) Len() int { return len(ps.list) }

// Active resolves the policies whose window contains date.
func (ps *Policies) Active(date time.Time) *Active {
	a := &Active{
		Date:       date,
		compliance: make(map[string]float64),
		tiers:      make(map[string]int),
		tierBeta:   make(map[int]float64),
		closed:     make(map[string]bool),
	}
	for _, p := range ps.list {
		if !p.IsActive(date) {
			continue
		}
		switch p.Class {
		case ClassIndividual:
			a.Individual = append(a.Individual, p)
		case ClassInteraction:
			a.Interaction = append(a.Interaction, p)
		case ClassLeisure:
			a.Leisure = append(a.Leisure, p)
		case ClassRegional:
			a.Regional = append(a.Regional, p)
		case ClassMedicalCare:
			a.MedicalCare = append(a.MedicalCare, p)
		case ClassVaccination:
			a.Vaccination = append(a.Vaccination, p)
		}
		a.resolve(p)
	}
	return a
}

// Active is the resolved view of the policies in force on one date. It is
// read-only once built and safe to share between goroutines.
type Active struct {
	Date        time.Time
	Individual  []Policy
	Interaction []Policy
	Leisure     []Policy
	Regional    []Policy
	MedicalCare []Policy
	Vaccination []Policy

	compliance map[string]float64
	tiers      map[string]int
	tierBeta   map[int]float64
	closed     map[string]bool
}

func (a *Active) resolve(p Policy) {
	switch params := p.Params.(type) {
	case *RegionalCompliance:
		for region, c := range params.CompliancesPerRegion {
			a.compliance[region] = c
		}
	case *TieredLockdown:
		for region, tier := range params.TiersPerRegion {
			a.tiers[region] = tier
		}
		for tier, f := range params.TierBetaFactors {
			a.tierBeta[tier] = f
		}
	case *CloseLeisureVenue:
		for _, v := range params.VenuesToClose {
			a.closed[v] = true
		}
	}
}

// Names lists the active policy kinds, sorted.
func (a *Active) Names() []string {
	var out []string
	for _, group := range [][]Policy{a.Individual, a.Interaction, a.Leisure, a.Regional, a.MedicalCare, a.Vaccination} {
		for _, p := range group {
			out = append(out, p.Kind)
		}
	}
	sort.Strings(out)
	return out
}

// Compliance is the regional compliance factor; unmapped regions get 1.
func (a *Active) Compliance(region string) float64 {
	if c, ok := a.compliance[region]; ok {
		return c
	}
	return 1
}

// Tier is the region's lockdown tier, 0 when none applies.
func (a *Active) Tier(region string) int { return a.tiers[region] }

// TierMultiplier is the intensity factor for the region's tier; regions
// without a tier, or tiers without a factor, get 1.
func (a *Active) TierMultiplier(region string) float64 {
	tier, ok := a.tiers[region]
	if !ok {
		return 1
	}
	if f, ok := a.tierBeta[tier]; ok {
		return f
	}
	return 1
}

// BetaMultiplier is the product of every active interaction factor for a
// group spec in a region. Residences are exempt from tier factors.
func (a *Active) BetaMultiplier(spec, region string) float64 {
	m := 1.0
	for _, p := range a.Interaction {
		switch params := p.Params.(type) {
		case *SocialDistancing:
			if f, ok := params.BetaFactors[spec]; ok {
				m *= f
			}
		case *MaskWearing:
			if prob, ok := params.MaskProbabilities[spec]; ok {
				m *= 1 - prob*params.Compliance*(1-params.BetaFactor)
			}
		}
	}
	if spec != world.SpecHousehold && spec != world.SpecCareHome {
		m *= a.TierMultiplier(region)
	}
	return m
}

// VenueClosed reports whether a leisure spec is closed, either outright or
// by the region's lockdown tier.
func (a *Active) VenueClosed(spec, region string) bool {
	if a.closed[spec] {
		return true
	}
	return slices.Contains(tierClosures[a.tiers[region]], spec)
}

// LeisureFactor scales the probability of choosing a venue spec.
func (a *Active) LeisureFactor(spec string) float64 {
	m := 1.0
	for _, p := range a.Leisure {
		if params, ok := p.Params.(*ChangeLeisureProbability); ok {
			if f, ok := params.ActivityReductions[spec]; ok {
				m *= f
			}
		}
	}
	return m
}

// ApplyMedicalCare reports whether hospitalisation is in force.
func (a *Active) ApplyMedicalCare() bool { return len(a.MedicalCare) > 0 }

func (a *Active) comply(r *rand.Rand, c float64, region string) bool {
	return r.Float64() < c*a.Compliance(region)
}

// StayHome decides whether p stays home for the whole time step. now is the
// simulation day.
func (a *Active) StayHome(p *world.Person, now float64, r *rand.Rand) bool {
	for _, pol := range a.Individual {
		switch params := pol.Params.(type) {
		case *SevereSymptomsStayHome:
			if p.Infection != nil && p.Infection.SevereAtHome() && a.comply(r, params.Compliance, p.Region) {
				return true
			}
		case *Quarantine:
			if quarantined(p, now, params.NDays) && a.comply(r, params.Compliance, p.Region) {
				return true
			}
			if a.householdQuarantine(p, now, params.NDaysHousehold) && a.comply(r, params.HouseholdCompliance, p.Region) {
				return true
			}
		case *Shielding:
			if p.Age >= params.MinAge && a.comply(r, params.Compliance, p.Region) {
				return true
			}
		}
	}
	return false
}

// quarantined reports whether p showed symptoms less than days ago and is
// still in a stay-at-home stage.
func quarantined(p *world.Person, now, days float64) bool {
	inf := p.Infection
	if inf == nil || !inf.StayAtHome() {
		return false
	}
	onset := inf.TimeOfSymptomOnset()
	return onset >= 0 && now >= onset && now-onset < days
}

func (a *Active) householdQuarantine(p *world.Person, now, days float64) bool {
	if p.Residence == nil || p.Residence.Group.Spec != world.SpecHousehold {
		return false
	}
	for _, sg := range p.Residence.Group.Subgroups {
		for _, mate := range sg.Members() {
			if mate == p || mate.Infection == nil {
				continue
			}
			onset := mate.Infection.TimeOfSymptomOnset()
			if onset >= 0 && now >= onset && now-onset < days {
				return true
			}
		}
	}
	return false
}

// SkipActivity decides whether p skips an activity this time step.
func (a *Active) SkipActivity(p *world.Person, activity string, r *rand.Rand) bool {
	if activity != world.ActivityPrimary && activity != world.ActivityCommute {
		return false
	}
	if p.Primary == nil {
		return false
	}
	spec := p.Primary.Group.Spec
	for _, pol := range a.Individual {
		switch params := pol.Params.(type) {
		case *CloseSchools:
			if spec != world.SpecSchool || activity != world.ActivityPrimary {
				continue
			}
			if params.FullClosure {
				return true
			}
			if p.Primary.Index != world.SchoolStudents {
				continue
			}
			if slices.Contains(params.YearsToClose, p.Age) || r.Float64() > params.AttendingCompliance {
				return true
			}
		case *CloseCompanies:
			if spec != world.SpecCompany {
				continue
			}
			if params.FullClosure {
				return true
			}
			if slices.Contains(params.KeySectors, p.Sector) {
				continue
			}
			if a.comply(r, params.AvoidWorkProbability, p.Region) {
				return true
			}
		case *CloseUniversities:
			if spec == "university" {
				return true
			}
		}
	}
	return false
}

// Vaccinate gives p a dose with the daily rollout probability of every active
// vaccine policy p is eligible for over dt days. It reports whether p was
// vaccinated.
func (a *Active) Vaccinate(p *world.Person, dt float64, r *rand.Rand) bool {
	if p.Vaccinated || p.Dead || p.Infected() {
		return false
	}
	for _, pol := range a.Vaccination {
		v, ok := pol.Params.(*VaccineDistribution)
		if !ok {
			continue
		}
		eligible := p.Age >= v.MinAge && p.Age <= v.MaxAge
		if v.CareHomeResidents && p.CareHomeResident() {
			eligible = true
		}
		if !eligible {
			continue
		}
		if r.Float64() < v.Coverage*dt/v.RolloutDays {
			p.Vaccinated = true
			p.Susceptibility *= 1 - v.Efficacy
			p.Immunity = v.SeverityEfficacy
			return true
		}
	}
	return false
}
