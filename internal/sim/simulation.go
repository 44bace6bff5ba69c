package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"epicore/internal/config"
	"epicore/internal/disease"
	"epicore/internal/hospital"
	"epicore/internal/infection"
	"epicore/internal/interaction"
	"epicore/internal/policy"
	"epicore/internal/record"
	"epicore/internal/world"
)

// Env is everything a run reads: configuration, the population and the
// collaborators it writes to. It is built once per run and passed to New.
type Env struct {
	Disease   *disease.Config
	Selector  *infection.Selector
	Engine    *interaction.Engine
	Policies  *policy.Policies
	World     *world.World
	Hospitals *hospital.Hospitals
	Recorder  record.Sink
}

// Options controls the clock and seeding of a run.
type Options struct {
	Seed               uint64
	Start              time.Time
	TotalDays          float64
	Workers            int
	StopWhenExtinct    bool
	InitialCases       int
	LeisureProbability float64
	Weekday            config.StepConfig
	Weekend            config.StepConfig
}

// Snapshot is the state reported after each step.
type Snapshot struct {
	Day                  float64   `json:"day"`
	Date                 time.Time `json:"date"`
	Susceptible          int       `json:"susceptible"`
	Infected             int       `json:"infected"`
	Recovered            int       `json:"recovered"`
	Dead                 int       `json:"dead"`
	Hospitalised         int       `json:"hospitalised"`
	ICU                  int       `json:"icu"`
	NewInfections        int       `json:"new_infections"`
	TransmissionModifier float64   `json:"transmission_modifier"`
	LockdownEnabled      bool      `json:"lockdown_enabled"`
	HospitalCapacity     int       `json:"hospital_capacity"`
	Overloaded           bool      `json:"overloaded"`
	ActivePolicies       []string  `json:"active_policies"`
	Finished             bool      `json:"finished"`
}

// ControlSettings are the knobs an operator can turn while a run is live.
type ControlSettings struct {
	TransmissionModifier float64 `json:"transmission_modifier"`
	LockdownEnabled      bool    `json:"lockdown_enabled"`
	HospitalCapacity     int     `json:"hospital_capacity"`
}

// Simulation drives the epidemic core one time step at a time: refresh
// policies, route people, run every active group's interaction, then advance
// every infection.
type Simulation struct {
	mu              sync.RWMutex
	transmissionMod float64
	lockdown        bool
	hospitalBeds    int
	icuBeds         int
	snapshot        Snapshot

	stepMu    sync.Mutex
	env       Env
	opts      Options
	timer     *Timer
	rng       *rand.Rand
	active    *policy.Active
	wards     map[int]*world.Group
	rejected  map[int]disease.Tag
	pending   []record.Event
	finished  bool
}

// New creates a simulation over env and infects opts.InitialCases people at
// time zero.
func New(env Env, opts Options) (*Simulation, error) {
	switch {
	case env.Disease == nil, env.Selector == nil, env.Engine == nil, env.World == nil:
		return nil, errors.New("sim: disease, selector, engine and world are required")
	case len(opts.Weekday.StepDuration) == 0 || len(opts.Weekend.StepDuration) == 0:
		return nil, errors.New("sim: weekday and weekend steps are required")
	}
	if env.Policies == nil {
		env.Policies = policy.New()
	}
	if env.Hospitals == nil {
		env.Hospitals = hospital.NewHospitals()
	}
	if env.Recorder == nil {
		env.Recorder = record.NewMemory()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	s := &Simulation{
		transmissionMod: 1.0,
		env:             env,
		opts:            opts,
		timer:           NewTimer(opts.Start, opts.TotalDays, opts.Weekday, opts.Weekend),
		rng:             rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		wards:           make(map[int]*world.Group),
		rejected:        make(map[int]disease.Tag),
	}
	for _, g := range env.World.Hospitals() {
		s.wards[g.ID] = g
	}
	if hs := env.Hospitals.All(); len(hs) > 0 {
		s.hospitalBeds, s.icuBeds = hs[0].Capacity()
	}

	s.RefreshPolicies(s.timer.Date())
	if err := s.seed(opts.InitialCases); err != nil {
		return nil, err
	}
	s.updateSnapshot(0)
	return s, nil
}

// seed infects n distinct susceptible people, chosen uniformly, at time 0.
func (s *Simulation) seed(n int) error {
	people := s.env.World.People
	if n > len(people) {
		n = len(people)
	}
	for _, i := range s.rng.Perm(len(people))[:n] {
		p := people[i]
		if !p.Susceptible() {
			continue
		}
		inf, err := s.env.Selector.Infect(p.Individual(), 0, s.rng)
		if err != nil {
			return fmt.Errorf("seed person %d: %w", p.ID, err)
		}
		p.Infection = inf
		ev := record.New(record.KindInfection, p.ID, 0)
		ev.Region = p.Region
		ev.Location = "seed"
		s.pending = append(s.pending, ev)
	}
	return nil
}

// UpdateTransmissionModifier records an operator-driven scaling of every
// group's contact intensity, clamped to [0, 1].
func (s *Simulation) UpdateTransmissionModifier(modifier float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if modifier < 0 {
		modifier = 0
	} else if modifier > 1 {
		modifier = 1
	}
	s.transmissionMod = modifier
}

// CurrentTransmissionModifier returns the operator modifier, 1.0 by default.
func (s *Simulation) CurrentTransmissionModifier() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transmissionMod
}

// SetLockdown toggles the operator lockdown, which keeps most people home
// from work and leisure.
func (s *Simulation) SetLockdown(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockdown = enabled
}

func (s *Simulation) LockdownEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockdown
}

// SetHospitalCapacity sets the ward beds of every hospital. Negative values
// are clamped to zero; current patients are never evicted.
func (s *Simulation) SetHospitalCapacity(beds int) {
	if beds < 0 {
		beds = 0
	}
	s.mu.Lock()
	s.hospitalBeds = beds
	icu := s.icuBeds
	s.mu.Unlock()
	s.env.Hospitals.SetCapacity(beds, icu)
}

func (s *Simulation) HospitalCapacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hospitalBeds
}

// Overloaded reports whether any hospital's ward is full.
func (s *Simulation) Overloaded() bool {
	for _, h := range s.env.Hospitals.All() {
		if h.Overloaded() {
			return true
		}
	}
	return false
}

// ApplyControlSettings applies every knob at once and returns the resulting
// snapshot.
func (s *Simulation) ApplyControlSettings(settings ControlSettings) Snapshot {
	s.UpdateTransmissionModifier(settings.TransmissionModifier)
	s.SetLockdown(settings.LockdownEnabled)
	s.SetHospitalCapacity(settings.HospitalCapacity)
	return s.Snapshot()
}

// Snapshot returns the state after the last step with the current knobs.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.snapshot
	snap.TransmissionModifier = s.transmissionMod
	snap.LockdownEnabled = s.lockdown
	snap.HospitalCapacity = s.hospitalBeds
	s.mu.RUnlock()
	snap.Overloaded = s.Overloaded()
	return snap
}

// Recorder is the sink the run writes events to.
func (s *Simulation) Recorder() record.Sink { return s.env.Recorder }

// World is the population being simulated.
func (s *Simulation) World() *world.World { return s.env.World }

// Policies returns every configured policy.
func (s *Simulation) Policies() []policy.Policy { return s.env.Policies.All() }

// RefreshPolicies resolves the policies active on date for the coming step.
func (s *Simulation) RefreshPolicies(date time.Time) *policy.Active {
	s.active = s.env.Policies.Active(date)
	return s.active
}

// Interact evaluates every group with someone present and infects the
// people its draws select. Groups run in parallel, each on its own random
// stream derived from the step seed and the group ID; the resulting
// infections are applied afterwards in group order so the outcome does not
// depend on scheduling.
func (s *Simulation) Interact(now float64) (int, error) {
	groups := s.env.World.ActiveGroups()
	results := make([][]interaction.Case, len(groups))
	stepSeed := s.rng.Uint64()
	modifier := s.CurrentTransmissionModifier()
	hours := s.timer.Duration()
	active := s.active

	var eg errgroup.Group
	eg.SetLimit(s.opts.Workers)
	for i, g := range groups {
		eg.Go(func() error {
			ig := interaction.NewInteractiveGroup(g)
			if ig.Degenerate() {
				return nil
			}
			beta := active.BetaMultiplier(g.Spec, g.Region) * modifier
			r := rand.New(rand.NewPCG(stepSeed, uint64(g.ID)))
			cases, err := s.env.Engine.TimeStep(ig, beta, hours, r)
			if err != nil {
				return fmt.Errorf("group %d (%s): %w", g.ID, g.Spec, err)
			}
			results[i] = cases
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, cases := range results {
		for _, c := range cases {
			if !c.Person.Susceptible() {
				continue
			}
			inf, err := s.env.Selector.Infect(c.Person.Individual(), now, s.rng)
			if err != nil {
				return n, fmt.Errorf("infect person %d: %w", c.Person.ID, err)
			}
			c.Person.Infection = inf
			ev := record.New(record.KindInfection, c.Person.ID, now)
			ev.Region = c.Person.Region
			ev.Location = c.Group.Spec
			ev.GroupID = c.Group.ID
			if c.Infector != nil {
				ev.InfectorID = c.Infector.ID
			}
			s.pending = append(s.pending, ev)
			n++
		}
	}
	return n, nil
}

// AdvanceInfections moves every active infection forward by elapsed days,
// then applies the consequences: deaths, recoveries, and hospital admission
// or discharge while medical care is in force.
func (s *Simulation) AdvanceInfections(elapsed float64) error {
	end := s.timer.Now() + elapsed
	medical := s.active.ApplyMedicalCare()
	for _, p := range s.env.World.People {
		if p.Dead || p.Infection == nil || p.Infection.Terminal() {
			continue
		}
		changes, err := p.Infection.Advance(elapsed)
		if err != nil {
			return fmt.Errorf("person %d: %w", p.ID, err)
		}
		at := end
		for _, ch := range changes {
			ev := record.New(record.KindStageChanged, p.ID, ch.Time)
			ev.Region = p.Region
			ev.Tag = s.env.Disease.TagName(ch.Tag)
			s.pending = append(s.pending, ev)
			at = ch.Time
		}

		inf := p.Infection
		switch {
		case inf.Dead():
			s.discharge(p, at, false)
			p.Dead = true
			ev := record.New(record.KindDeath, p.ID, at)
			ev.Region = p.Region
			ev.Tag = s.env.Disease.TagName(inf.Tag())
			s.pending = append(s.pending, ev)
		case inf.Recovered():
			s.discharge(p, at, true)
			p.Recovered = true
			ev := record.New(record.KindRecovery, p.ID, at)
			ev.Region = p.Region
			s.pending = append(s.pending, ev)
		case inf.NeedsHospital() && medical:
			s.admit(p, at)
		case p.HospitalID >= 0:
			s.discharge(p, at, true)
		}
	}
	return nil
}

// admit requests a ward or ICU bed. A rejection leaves the person's stage
// untouched; they stay home and an admission_rejected event is recorded once
// per stage.
func (s *Simulation) admit(p *world.Person, at float64) {
	icu := p.Infection.NeedsICU()
	tag := p.Infection.Tag()
	h, out := s.env.Hospitals.Allocate(p.ID, p.Region, icu)
	switch out {
	case hospital.Admitted, hospital.Transferred:
		delete(s.rejected, p.ID)
		p.HospitalID = h.ID
		if g, ok := s.wards[h.ID]; ok {
			sub := world.HospitalPatients
			if icu {
				sub = world.HospitalICUPatients
			}
			p.Medical = g.Subgroups[sub]
		}
		ev := record.New(record.KindHospitalAdmission, p.ID, at)
		ev.Region = p.Region
		ev.HospitalID = h.ID
		ev.Tag = s.env.Disease.TagName(tag)
		s.pending = append(s.pending, ev)
	case hospital.Rejected:
		if prev, ok := s.rejected[p.ID]; ok && prev == tag {
			return
		}
		s.rejected[p.ID] = tag
		ev := record.New(record.KindAdmissionRejected, p.ID, at)
		ev.Region = p.Region
		ev.Tag = s.env.Disease.TagName(tag)
		if h != nil {
			ev.HospitalID = h.ID
		}
		s.pending = append(s.pending, ev)
		log.Printf("hospital admission rejected: person=%d tag=%s", p.ID, ev.Tag)
	}
}

func (s *Simulation) discharge(p *world.Person, at float64, emit bool) {
	delete(s.rejected, p.ID)
	h, ok := s.env.Hospitals.Release(p.ID)
	p.HospitalID = -1
	p.Medical = nil
	if !ok || !emit {
		return
	}
	ev := record.New(record.KindDischarge, p.ID, at)
	ev.Region = p.Region
	ev.HospitalID = h.ID
	s.pending = append(s.pending, ev)
}

func (s *Simulation) vaccinate(now float64) {
	for _, p := range s.env.World.People {
		if s.active.Vaccinate(p, 1, s.rng) {
			ev := record.New(record.KindVaccination, p.ID, now)
			ev.Region = p.Region
			s.pending = append(s.pending, ev)
		}
	}
}

func (s *Simulation) flush(ctx context.Context) {
	if len(s.pending) == 0 {
		return
	}
	if err := s.env.Recorder.Record(ctx, s.pending); err != nil {
		log.Printf("recorder flush failed: %v", err)
	}
	s.pending = nil
}

// Step runs one time step. Configuration and invariant errors halt the run.
func (s *Simulation) Step(ctx context.Context) (Snapshot, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	if s.finished {
		return s.Snapshot(), nil
	}
	now := s.timer.Now()
	s.RefreshPolicies(s.timer.Date())
	if s.timer.FirstStepOfDay() {
		s.vaccinate(now)
	}
	s.routeAll(now)

	infected, err := s.Interact(now)
	if err != nil {
		return s.Snapshot(), fmt.Errorf("interact at day %.2f: %w", now, err)
	}
	if err := s.AdvanceInfections(s.timer.Duration() / 24); err != nil {
		return s.Snapshot(), fmt.Errorf("advance infections at day %.2f: %w", now, err)
	}
	s.flush(ctx)
	s.timer.Advance()
	s.updateSnapshot(infected)
	return s.Snapshot(), nil
}

func (s *Simulation) updateSnapshot(newInfections int) {
	c := s.env.World.Count()
	finished := s.timer.Done() || (s.opts.StopWhenExtinct && c.Infected == 0)
	s.finished = finished

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = Snapshot{
		Day:            s.timer.Now(),
		Date:           s.timer.Date(),
		Susceptible:    c.Susceptible,
		Infected:       c.Infected,
		Recovered:      c.Recovered,
		Dead:           c.Dead,
		Hospitalised:   c.Hospitalised,
		ICU:            c.ICU,
		NewInfections:  newInfections,
		ActivePolicies: s.active.Names(),
		Finished:       finished,
	}
}

// Run steps the simulation once per interval until the horizon is reached,
// the context is cancelled, or a step fails.
func (s *Simulation) Run(ctx context.Context, interval time.Duration, report func(Snapshot)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap, err := s.Step(ctx)
			if err != nil {
				return err
			}
			if report != nil {
				report(snap)
			}
			log.Printf("simulation step: day=%.2f infected=%d new=%d dead=%d modifier=%.2f",
				snap.Day, snap.Infected, snap.NewInfections, snap.Dead, snap.TransmissionModifier)
			if snap.Finished {
				return nil
			}
		}
	}
}

// RunToEnd steps without pausing until the run finishes.
func (s *Simulation) RunToEnd(ctx context.Context) (Snapshot, error) {
	for {
		if err := ctx.Err(); err != nil {
			return s.Snapshot(), err
		}
		snap, err := s.Step(ctx)
		if err != nil {
			return snap, err
		}
		if snap.Finished {
			return snap, nil
		}
	}
}

// Close releases the recorder.
func (s *Simulation) Close() error {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	s.flush(context.Background())
	return s.env.Recorder.Close()
}
