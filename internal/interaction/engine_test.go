package interaction

import (
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"epicore/internal/disease"
	"epicore/internal/dist"
	"epicore/internal/infection"
	"epicore/internal/simerr"
	"epicore/internal/world"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func constantDisease(t *testing.T) *disease.Config {
	t.Helper()
	cfg, err := disease.Load("../../configs/disease/covid19.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := *cfg
	c.Transmission = disease.TransmissionConfig{
		Type:               disease.TransmissionConstant,
		Probability:        dist.MustNew(dist.Const(1)),
		AsymptomaticFactor: dist.MustNew(dist.Const(1)),
		MildFactor:         dist.MustNew(dist.Const(1)),
	}
	return &c
}

// infectious returns a person in the mild stage whose infectiousness is
// value.
func infectious(t *testing.T, cfg *disease.Config, id int, value float64) *world.Person {
	t.Helper()
	c := *cfg
	c.Transmission.Probability = dist.MustNew(dist.Const(value))
	stages := []infection.Stage{
		{Tag: cfg.MustTag("exposed"), Duration: 1},
		{Tag: cfg.MustTag("mild"), Duration: 10},
		{Tag: cfg.MustTag("recovered")},
	}
	curve := infection.NewTransmission(&c, cfg.MustTag("mild"), 1, nil)
	inf, err := infection.New(&c, stages, curve, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := inf.Advance(1.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &world.Person{ID: id, Age: 40, Infection: inf, Susceptibility: 1, HospitalID: -1}
}

func susceptible(id, age int) *world.Person {
	return &world.Person{ID: id, Age: age, Susceptibility: 1, HospitalID: -1}
}

// place builds a world around g and puts each person in the given subgroup.
func place(g *world.Group, people map[*world.Person]int) {
	var list []*world.Person
	for p := range people {
		list = append(list, p)
	}
	w := world.New(list, []*world.Group{g})
	for p, sg := range people {
		w.Place(p, g.Subgroups[sg])
	}
	w.SortPresence()
}

func singleMatrix(c, p float64) *Config {
	return &Config{
		AlphaPhysical: 2,
		ContactMatrices: map[string]*ContactMatrix{
			world.SpecCompany: {
				Contacts:           [][]float64{{c}},
				ProportionPhysical: [][]float64{{p}},
				CharacteristicTime: 8,
			},
		},
	}
}

func TestSingleContactHazard(t *testing.T) {
	cfg := constantDisease(t)
	g := world.NewGroup(1, world.SpecCompany, "London", "London/0", 1)
	s := susceptible(2, 30)
	place(g, map[*world.Person]int{infectious(t, cfg, 1, 1): 0, s: 0})

	exposures, err := NewEngine(singleMatrix(5, 0)).Probabilities(NewInteractiveGroup(g), 1, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exposures) != 1 || exposures[0].Person != s {
		t.Fatalf("expected one exposure for the susceptible person, got %+v", exposures)
	}
	if math.Abs(exposures[0].Hazard-5) > 1e-12 {
		t.Fatalf("expected hazard 5, got %v", exposures[0].Hazard)
	}
	if want := 1 - math.Exp(-5); math.Abs(exposures[0].Probability-want) > 1e-12 {
		t.Fatalf("expected probability %v, got %v", want, exposures[0].Probability)
	}
}

func TestPhysicalContactsAndPolicyFactor(t *testing.T) {
	cfg := constantDisease(t)
	g := world.NewGroup(1, world.SpecCompany, "London", "London/0", 1)
	place(g, map[*world.Person]int{infectious(t, cfg, 1, 0.5): 0, susceptible(2, 30): 0})

	exposures, err := NewEngine(singleMatrix(5, 1)).Probabilities(NewInteractiveGroup(g), 0.72, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 5 contacts * alpha 2 * infectiousness 0.5 * 0.72 * 4h/8h
	if want := 5 * 2 * 0.5 * 0.72 * 0.5; math.Abs(exposures[0].Hazard-want) > 1e-12 {
		t.Fatalf("expected hazard %v, got %v", want, exposures[0].Hazard)
	}
}

func TestAgeSusceptibilityAndNormalisation(t *testing.T) {
	cfg := constantDisease(t)
	ec := singleMatrix(6, 0)
	ec.ContactMatrices[world.SpecCompany].NormaliseBySize = true
	ec.Susceptibilities = []AgeSusceptibility{{MinAge: 0, MaxAge: 12, Value: 0.5}}
	g := world.NewGroup(1, world.SpecCompany, "London", "London/0", 1)
	child := susceptible(3, 10)
	place(g, map[*world.Person]int{
		infectious(t, cfg, 1, 1): 0,
		infectious(t, cfg, 2, 1): 0,
		child:                    0,
	})

	exposures, err := NewEngine(ec).Probabilities(NewInteractiveGroup(g), 1, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// two infectors, 6 contacts spread over the 2 others present, child factor 0.5
	if want := 2 * (6.0 / 2) * 0.5; math.Abs(exposures[0].Hazard-want) > 1e-12 {
		t.Fatalf("expected hazard %v, got %v", want, exposures[0].Hazard)
	}
}

func TestMissingMatrixEntryIsConfigError(t *testing.T) {
	cfg := constantDisease(t)
	ec := &Config{
		AlphaPhysical: 1,
		ContactMatrices: map[string]*ContactMatrix{
			world.SpecHousehold: {Contacts: [][]float64{{1}}, ProportionPhysical: [][]float64{{0}}, CharacteristicTime: 12},
		},
	}
	g := world.NewGroup(1, world.SpecHousehold, "London", "London/0", 4)
	place(g, map[*world.Person]int{
		infectious(t, cfg, 1, 1): world.HouseholdAdults,
		susceptible(2, 5):        world.HouseholdKids,
	})
	_, err := NewEngine(ec).TimeStep(NewInteractiveGroup(g), 1, 12, newRand(1))
	if !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "household.contacts.0.2") {
		t.Fatalf("expected error to name the missing pair, got %v", err)
	}

	venue := world.NewGroup(2, world.SpecPub, "London", "London/0", 1)
	place(venue, map[*world.Person]int{infectious(t, cfg, 3, 1): 0, susceptible(4, 30): 0})
	if _, err := NewEngine(ec).TimeStep(NewInteractiveGroup(venue), 1, 3, newRand(1)); !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected configuration error for unconfigured spec, got %v", err)
	}
}

func TestDegenerateGroupsYieldNothing(t *testing.T) {
	cfg := constantDisease(t)
	engine := NewEngine(singleMatrix(5, 0))

	onlySusceptible := world.NewGroup(1, world.SpecCompany, "London", "London/0", 1)
	place(onlySusceptible, map[*world.Person]int{susceptible(1, 30): 0, susceptible(2, 30): 0})
	onlyInfectious := world.NewGroup(2, world.SpecCompany, "London", "London/0", 1)
	place(onlyInfectious, map[*world.Person]int{infectious(t, cfg, 3, 1): 0})
	// Degenerate groups need no matrix at all.
	unconfigured := world.NewGroup(3, world.SpecGym, "London", "London/0", 1)
	place(unconfigured, map[*world.Person]int{susceptible(4, 30): 0})

	for _, g := range []*world.Group{onlySusceptible, onlyInfectious, unconfigured} {
		ig := NewInteractiveGroup(g)
		if !ig.Degenerate() {
			t.Fatalf("expected group %d to be degenerate", g.ID)
		}
		cases, err := engine.TimeStep(ig, 1, 8, newRand(1))
		if err != nil || len(cases) != 0 {
			t.Fatalf("expected no cases and no error, got %v, %v", cases, err)
		}
	}
}

func TestTimeStepIsReproducibleAndAttributesInfector(t *testing.T) {
	cfg := constantDisease(t)
	build := func() *InteractiveGroup {
		g := world.NewGroup(1, world.SpecCompany, "London", "London/0", 1)
		people := map[*world.Person]int{
			infectious(t, cfg, 1, 1):    0,
			infectious(t, cfg, 2, 1e-9): 0,
		}
		for id := 3; id < 23; id++ {
			people[susceptible(id, 30)] = 0
		}
		place(g, people)
		return NewInteractiveGroup(g)
	}
	engine := NewEngine(singleMatrix(0.5, 0))

	first, err := engine.TimeStep(build(), 1, 8, newRand(42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := engine.TimeStep(build(), 1, 8, newRand(42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected identical case counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Person.ID != second[i].Person.ID {
			t.Fatalf("expected identical cases, got %d and %d", first[i].Person.ID, second[i].Person.ID)
		}
		if first[i].Infector == nil || first[i].Infector.ID != 1 {
			t.Fatalf("expected the dominant infector to be attributed, got %+v", first[i].Infector)
		}
		if first[i].Group.ID != 1 {
			t.Fatalf("expected case in group 1, got %d", first[i].Group.ID)
		}
	}
}

func TestDeadAndRecoveredAreNotExposed(t *testing.T) {
	cfg := constantDisease(t)
	g := world.NewGroup(1, world.SpecCompany, "London", "London/0", 1)
	dead := susceptible(2, 30)
	dead.Dead = true
	immune := susceptible(3, 30)
	immune.Susceptibility = 0
	place(g, map[*world.Person]int{infectious(t, cfg, 1, 1): 0, dead: 0, immune: 0})
	if !NewInteractiveGroup(g).Degenerate() {
		t.Fatal("expected no susceptible people")
	}
}

func TestLoadInteractionConfig(t *testing.T) {
	cfg, err := LoadConfig("../../configs/interaction.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for spec, n := range world.SubgroupCounts {
		m, ok := cfg.ContactMatrices[spec]
		if !ok {
			t.Fatalf("expected a matrix for %s", spec)
		}
		if len(m.Contacts) != n {
			t.Fatalf("expected %d rows for %s, got %d", n, spec, len(m.Contacts))
		}
	}
	if cfg.AlphaPhysical != 2 {
		t.Fatalf("expected alpha_physical 2, got %v", cfg.AlphaPhysical)
	}
	if got := cfg.Susceptibility(5); got != 0.5 {
		t.Fatalf("expected child susceptibility 0.5, got %v", got)
	}
	if got := cfg.Beta("university"); got != 1 {
		t.Fatalf("expected default beta 1, got %v", got)
	}
}

func TestParseConfigRejectsBadMatrices(t *testing.T) {
	cases := map[string]struct {
		doc string
		key string
	}{
		"wrong size": {
			doc: "contact_matrices:\n  school:\n    contacts: [[1]]\n    characteristic_time: 8\n",
			key: "interaction.contact_matrices.school.contacts",
		},
		"ragged": {
			doc: "contact_matrices:\n  custom:\n    contacts: [[1, 2], [1]]\n    characteristic_time: 8\n",
			key: "interaction.contact_matrices.custom.contacts.1",
		},
		"physical range": {
			doc: "contact_matrices:\n  company:\n    contacts: [[1]]\n    proportion_physical: [[2]]\n    characteristic_time: 8\n",
			key: "interaction.contact_matrices.company.proportion_physical.0.0",
		},
		"no time": {
			doc: "contact_matrices:\n  company:\n    contacts: [[1]]\n",
			key: "interaction.contact_matrices.company.characteristic_time",
		},
		"empty": {
			doc: "alpha_physical: 2\n",
			key: "interaction.contact_matrices",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.doc))
			var ce *simerr.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Key != tc.key {
				t.Fatalf("expected key %s, got %s", tc.key, ce.Key)
			}
		})
	}
}
