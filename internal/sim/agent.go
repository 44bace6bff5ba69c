package sim

import (
	"math/rand/v2"

	"epicore/internal/world"
)

// lockdownMobility is the share of people who still leave home for work or
// leisure while the operator lockdown is on.
const lockdownMobility = 0.1

// routeAll clears last step's presence and places every living person into
// exactly one subgroup for the coming step.
func (s *Simulation) routeAll(now float64) {
	w := s.env.World
	w.ClearPresence()
	lockdown := s.LockdownEnabled()
	activities := s.timer.Activities()
	for _, p := range w.People {
		if sg := s.route(p, activities, now, lockdown); sg != nil {
			w.Place(p, sg)
		}
	}
	w.SortPresence()
}

// route walks the step's activities in priority order and returns the first
// subgroup p can attend. The dead go nowhere. Residence is the fallback.
func (s *Simulation) route(p *world.Person, activities []string, now float64, lockdown bool) *world.Subgroup {
	if p.Dead {
		return nil
	}
	if p.Medical != nil {
		return p.Medical
	}
	if p.Infection != nil && p.Infection.NeedsHospital() {
		return p.Residence
	}
	if s.active.StayHome(p, now, s.rng) {
		return p.Residence
	}

	for _, activity := range activities {
		switch activity {
		case world.ActivityPrimary:
			if p.Primary == nil || s.active.SkipActivity(p, activity, s.rng) {
				continue
			}
			if lockdown && s.rng.Float64() >= lockdownMobility {
				continue
			}
			return p.Primary
		case world.ActivityLeisure:
			if lockdown && s.rng.Float64() >= lockdownMobility {
				continue
			}
			if sg := s.leisure(p, s.rng); sg != nil {
				return sg
			}
		case world.ActivityResidence:
			return p.Residence
		}
	}
	return p.Residence
}

// leisure picks an open venue near p, weighting each spec by the active
// leisure factor. Care home residents do not go out.
func (s *Simulation) leisure(p *world.Person, r *rand.Rand) *world.Subgroup {
	if p.CareHomeResident() || r.Float64() >= s.opts.LeisureProbability {
		return nil
	}
	venues := s.env.World.LeisureVenues(p.SuperArea)
	weights := make([]float64, len(venues))
	total := 0.0
	for i, g := range venues {
		if s.active.VenueClosed(g.Spec, g.Region) {
			continue
		}
		weights[i] = s.active.LeisureFactor(g.Spec)
		total += weights[i]
	}
	if total <= 0 {
		return nil
	}
	u := r.Float64() * total
	for i, g := range venues {
		if weights[i] == 0 {
			continue
		}
		u -= weights[i]
		if u < 0 {
			return g.Subgroups[0]
		}
	}
	for i := len(venues) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return venues[i].Subgroups[0]
		}
	}
	return nil
}
