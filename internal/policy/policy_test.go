package policy

import (
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"epicore/internal/disease"
	"epicore/internal/infection"
	"epicore/internal/simerr"
	"epicore/internal/world"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func mustParse(t *testing.T, doc string) *Policies {
	t.Helper()
	ps, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ps
}

func TestLoadExampleConfig(t *testing.T) {
	ps, err := Load("../../configs/policy.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ps.Len() < 14 {
		t.Fatalf("expected every configured policy, got %d", ps.Len())
	}
	a := ps.Active(date("2020-04-01"))
	if !a.ApplyMedicalCare() {
		t.Fatal("expected hospitalisation without a window to be always active")
	}
	if got := a.BetaMultiplier(world.SpecPub, "London"); got != 0.75 {
		t.Fatalf("expected pub factor 0.75 on 2020-04-01, got %v", got)
	}
	if !a.VenueClosed(world.SpecPub, "London") {
		t.Fatal("expected pubs closed on 2020-04-01")
	}
}

func TestInteractionFactorsCompose(t *testing.T) {
	ps := mustParse(t, `
social_distancing:
  1:
    start_time: 2020-03-01
    end_time: 2020-05-01
    beta_factors: {company: 0.8}
  2:
    start_time: 2020-04-01
    end_time: 2020-06-01
    beta_factors: {company: 0.9}
`)
	cases := []struct {
		day  string
		want float64
	}{
		{"2020-03-15", 0.8},
		{"2020-04-15", 0.72},
		{"2020-05-01", 0.9},
		{"2020-06-01", 1},
	}
	for _, tc := range cases {
		got := ps.Active(date(tc.day)).BetaMultiplier(world.SpecCompany, "London")
		if math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("%s: expected %v, got %v", tc.day, tc.want, got)
		}
	}
}

func TestMaskWearingFactor(t *testing.T) {
	ps := mustParse(t, `
mask_wearing:
  start_time: 2020-07-01
  end_time: 2020-09-01
  compliance: 0.5
  beta_factor: 0.4
  mask_probabilities: {grocery: 1.0}
`)
	a := ps.Active(date("2020-08-01"))
	if got, want := a.BetaMultiplier(world.SpecGrocery, "x"), 1-1.0*0.5*(1-0.4); math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := a.BetaMultiplier(world.SpecPub, "x"); got != 1 {
		t.Fatalf("expected no effect on unlisted spec, got %v", got)
	}
}

func TestTierLookupForUnmappedRegion(t *testing.T) {
	ps := mustParse(t, `
tiered_lockdown:
  start_time: 2020-10-14
  end_time: 2020-11-05
  tiers_per_region: {London: 3}
  tier_beta_factors: {3: 0.5}
`)
	a := ps.Active(date("2020-10-20"))
	if got := a.TierMultiplier("Wales"); got != 1 {
		t.Fatalf("expected multiplier 1 for unmapped region, got %v", got)
	}
	if a.Tier("Wales") != 0 || a.VenueClosed(world.SpecCinema, "Wales") {
		t.Fatal("expected no tier effects outside mapped regions")
	}
	if got := a.TierMultiplier("London"); got != 0.5 {
		t.Fatalf("expected London tier factor 0.5, got %v", got)
	}
	if !a.VenueClosed(world.SpecCinema, "London") || a.VenueClosed(world.SpecPub, "London") {
		t.Fatal("expected tier 3 to close cinemas but not pubs")
	}
	if got := a.BetaMultiplier(world.SpecHousehold, "London"); got != 1 {
		t.Fatalf("expected households exempt from tier factors, got %v", got)
	}
	if got := a.Compliance("Wales"); got != 1 {
		t.Fatalf("expected default compliance 1, got %v", got)
	}
}

func TestLoaderErrorsNameTheKey(t *testing.T) {
	cases := map[string]struct {
		doc  string
		want []string
	}{
		"missing end": {
			doc:  "quarantine:\n  1:\n    start_time: 2020-03-16\n    n_days: 7\n",
			want: []string{"policy.quarantine.1", "end_time missing"},
		},
		"unknown kind": {
			doc:  "curfew:\n  start_time: 2020-03-16\n  end_time: 2020-04-16\n",
			want: []string{"policy.curfew", "known policy kind"},
		},
		"bad compliance": {
			doc:  "shielding:\n  start_time: 2020-03-16\n  end_time: 2020-04-16\n  compliance: 1.5\n",
			want: []string{"policy.shielding"},
		},
		"inverted window": {
			doc:  "shielding:\n  start_time: 2020-05-16\n  end_time: 2020-04-16\n",
			want: []string{"policy.shielding", "start_time before end_time"},
		},
		"bad date": {
			doc:  "shielding:\n  start_time: soon\n  end_time: 2020-04-16\n",
			want: []string{"policy.shielding"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if !errors.Is(err, simerr.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Fatalf("expected %q in %v", w, err)
				}
			}
		})
	}
}

func TestNewPolicyChecksPayloadType(t *testing.T) {
	if _, err := NewPolicy(KindMaskWearing, time.Time{}, time.Time{}, &SocialDistancing{}); !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected configuration error for mismatched payload, got %v", err)
	}
	p, err := NewPolicy(KindSocialDistancing, date("2020-01-01"), date("2020-02-01"),
		&SocialDistancing{BetaFactors: map[string]float64{"pub": 0.5}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Class != ClassInteraction {
		t.Fatalf("expected interaction class, got %s", p.Class)
	}
}

func covidConfig(t *testing.T) *disease.Config {
	t.Helper()
	cfg, err := disease.Load("../../configs/disease/covid19.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

func household(people ...*world.Person) *world.Group {
	g := world.NewGroup(1, world.SpecHousehold, "London", "London/0", 4)
	for _, p := range people {
		p.Residence = g.Subgroups[world.HouseholdAdults]
		p.Residence.Add(p)
	}
	return g
}

func TestQuarantineKeepsCaseAndHouseholdHome(t *testing.T) {
	cfg := covidConfig(t)
	stages := []infection.Stage{
		{Tag: cfg.MustTag("exposed"), Duration: 1},
		{Tag: cfg.MustTag("mild"), Duration: 5},
		{Tag: cfg.MustTag("recovered")},
	}
	inf, err := infection.New(cfg, stages, nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := inf.Advance(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sick := &world.Person{ID: 1, Age: 40, Region: "London", Infection: inf}
	mate := &world.Person{ID: 2, Age: 38, Region: "London"}
	household(sick, mate)

	ps := New(mustPolicy(t, KindQuarantine, &Quarantine{NDays: 7, NDaysHousehold: 14, Compliance: 1, HouseholdCompliance: 1}))
	a := ps.Active(date("2020-04-01"))
	r := newRand(1)
	if !a.StayHome(sick, 2, r) {
		t.Fatal("expected symptomatic person to stay home")
	}
	if !a.StayHome(mate, 2, r) {
		t.Fatal("expected household member to stay home")
	}
	if a.StayHome(mate, 20, r) {
		t.Fatal("expected household quarantine to lapse after n_days_household")
	}
}

func mustPolicy(t *testing.T, kind string, params any) Policy {
	t.Helper()
	p, err := NewPolicy(kind, time.Time{}, time.Time{}, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestRegionalComplianceGatesShielding(t *testing.T) {
	ps := New(
		mustPolicy(t, KindShielding, &Shielding{MinAge: 70, Compliance: 1}),
		mustPolicy(t, KindRegionalCompliance, &RegionalCompliance{CompliancesPerRegion: map[string]float64{"North East": 0}}),
	)
	a := ps.Active(date("2020-04-01"))
	r := newRand(3)
	if !a.StayHome(&world.Person{Age: 80, Region: "London"}, 0, r) {
		t.Fatal("expected full compliance in an unmapped region")
	}
	if a.StayHome(&world.Person{Age: 80, Region: "North East"}, 0, r) {
		t.Fatal("expected zero regional compliance to disable shielding")
	}
	if a.StayHome(&world.Person{Age: 60, Region: "London"}, 0, r) {
		t.Fatal("expected people under min_age not to shield")
	}
}

func TestSchoolAndCompanyClosures(t *testing.T) {
	school := world.NewGroup(1, world.SpecSchool, "London", "London/0", 2)
	company := world.NewGroup(2, world.SpecCompany, "London", "London/0", 1)
	closedYear := &world.Person{Age: 10, Primary: school.Subgroups[world.SchoolStudents]}
	openYear := &world.Person{Age: 6, Primary: school.Subgroups[world.SchoolStudents]}
	teacher := &world.Person{Age: 40, Primary: school.Subgroups[world.SchoolTeachers]}
	keyWorker := &world.Person{Age: 40, Sector: "healthcare", Primary: company.Subgroups[0]}
	worker := &world.Person{Age: 40, Sector: "retail", Primary: company.Subgroups[0]}

	ps := New(
		mustPolicy(t, KindCloseSchools, &CloseSchools{YearsToClose: []int{10}, AttendingCompliance: 1}),
		mustPolicy(t, KindCloseCompanies, &CloseCompanies{AvoidWorkProbability: 1, KeySectors: []string{"healthcare"}}),
	)
	a := ps.Active(date("2020-04-01"))
	r := newRand(9)
	if !a.SkipActivity(closedYear, world.ActivityPrimary, r) {
		t.Fatal("expected closed year to skip school")
	}
	if a.SkipActivity(openYear, world.ActivityPrimary, r) || a.SkipActivity(teacher, world.ActivityPrimary, r) {
		t.Fatal("expected open years and teachers to attend")
	}
	if a.SkipActivity(closedYear, world.ActivityLeisure, r) {
		t.Fatal("expected school closure not to affect leisure")
	}
	if a.SkipActivity(keyWorker, world.ActivityPrimary, r) {
		t.Fatal("expected key worker to keep working")
	}
	if !a.SkipActivity(worker, world.ActivityPrimary, r) {
		t.Fatal("expected worker to stay home")
	}

	full := New(mustPolicy(t, KindCloseSchools, &CloseSchools{FullClosure: true, AttendingCompliance: 1}))
	if !full.Active(date("2020-04-01")).SkipActivity(teacher, world.ActivityPrimary, r) {
		t.Fatal("expected full closure to override attendance")
	}
}

func TestVaccinationUpdatesPerson(t *testing.T) {
	ps := New(mustPolicy(t, KindVaccineDistribution, &VaccineDistribution{
		MinAge: 65, MaxAge: 200, Coverage: 1, RolloutDays: 1, Efficacy: 0.6, SeverityEfficacy: 0.9,
	}))
	a := ps.Active(date("2021-01-01"))
	r := newRand(4)

	old := &world.Person{Age: 70, Susceptibility: 1}
	if !a.Vaccinate(old, 1, r) {
		t.Fatal("expected eligible person to be vaccinated")
	}
	if math.Abs(old.Susceptibility-0.4) > 1e-12 || old.Immunity != 0.9 || !old.Vaccinated {
		t.Fatalf("unexpected post-vaccination state %+v", old)
	}
	if a.Vaccinate(old, 1, r) {
		t.Fatal("expected no second dose")
	}
	if a.Vaccinate(&world.Person{Age: 30, Susceptibility: 1}, 1, r) {
		t.Fatal("expected under-age person to be skipped")
	}
}

func TestLeisureFactorMultiplies(t *testing.T) {
	ps := New(
		mustPolicy(t, KindChangeLeisureProbability, &ChangeLeisureProbability{ActivityReductions: map[string]float64{"pub": 0.5}}),
		mustPolicy(t, KindChangeLeisureProbability, &ChangeLeisureProbability{ActivityReductions: map[string]float64{"pub": 0.5, "gym": 0.2}}),
	)
	a := ps.Active(date("2020-04-01"))
	if got := a.LeisureFactor("pub"); got != 0.25 {
		t.Fatalf("expected 0.25, got %v", got)
	}
	if got := a.LeisureFactor("cinema"); got != 1 {
		t.Fatalf("expected 1 for unlisted venue, got %v", got)
	}
}
