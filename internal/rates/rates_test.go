package rates

import (
	"errors"
	"math"
	"strings"
	"testing"

	"epicore/internal/disease"
	"epicore/internal/simerr"
)

const scenarioDisease = `
disease:
  name: scenario
  settings:
    default_lowest_stage: exposed
    max_mild_symptom_tag: severe
    fatality_stage: [{name: dead_home}]
    recovered_stage: [{name: recovered}]
    hospitalised_stage: [{name: hospitalised}]
    intensive_care_stage: [{name: intensive_care}]
  symptom_tags:
    - {name: recovered, value: -2}
    - {name: healthy, value: -1}
    - {name: exposed, value: 0}
    - {name: asymptomatic, value: 1}
    - {name: mild, value: 2}
    - {name: severe, value: 3}
    - {name: hospitalised, value: 4}
    - {name: intensive_care, value: 5}
    - {name: dead_home, value: 6}
  infection_outcome_rates:
    - parameter: asymptomatic
    - parameter: mild
    - parameter: hospital
    - parameter: icu
    - parameter: home_ifr
  rate_to_tag_mapping:
    asymptomatic: asymptomatic
    mild: mild
    hospital: hospitalised
    icu: intensive_care
    home_ifr: dead_home
  unrated_tags:
    - name: severe
      rate_calc_dependency: [asymptomatic, mild, hospitalised, intensive_care, dead_home]
  transmission:
    type: constant
    probability: {type: constant, value: 1}
  trajectories:
    - stages:
        - {symptom_tag: exposed, completion_time: {type: constant, value: 1}}
        - {symptom_tag: asymptomatic, completion_time: {type: constant, value: 1}}
        - {symptom_tag: recovered}
    - stages:
        - {symptom_tag: exposed, completion_time: {type: constant, value: 1}}
        - {symptom_tag: mild, completion_time: {type: constant, value: 1}}
        - {symptom_tag: recovered}
    - stages:
        - {symptom_tag: exposed, completion_time: {type: constant, value: 1}}
        - {symptom_tag: severe, completion_time: {type: constant, value: 1}}
        - {symptom_tag: recovered}
    - stages:
        - {symptom_tag: exposed, completion_time: {type: constant, value: 1}}
        - {symptom_tag: hospitalised, completion_time: {type: constant, value: 1}}
        - {symptom_tag: recovered}
    - stages:
        - {symptom_tag: exposed, completion_time: {type: constant, value: 1}}
        - {symptom_tag: intensive_care, completion_time: {type: constant, value: 1}}
        - {symptom_tag: recovered}
    - stages:
        - {symptom_tag: exposed, completion_time: {type: constant, value: 1}}
        - {symptom_tag: severe, completion_time: {type: constant, value: 1}}
        - {symptom_tag: dead_home}
`

const scenarioRates = `age,gp_asymptomatic_male,gp_asymptomatic_female,gp_mild_male,gp_mild_female,gp_hospital_male,gp_hospital_female,gp_icu_male,gp_icu_female,gp_home_ifr_male,gp_home_ifr_female
"[0,49]",0.4,0.4,0.5,0.5,0.08,0.08,0.01,0.01,0.005,0.005
"[50,99]",0.2,0.3,0.3,0.3,0.2,0.1,0.1,0.05,0.1,0.05
`

func scenarioIndex(t *testing.T, csv string) (*disease.Config, *HealthIndex, error) {
	t.Helper()
	cfg, err := disease.Parse([]byte(scenarioDisease))
	if err != nil {
		t.Fatalf("unexpected disease error: %v", err)
	}
	table, err := LoadCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected rates error: %v", err)
	}
	h, err := NewHealthIndex(cfg, table, Options{})
	return cfg, h, err
}

func TestTableLookupClampsAges(t *testing.T) {
	table, err := LoadCSV(strings.NewReader(scenarioRates))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := []struct {
		age  int
		sex  Sex
		want float64
	}{
		{age: 0, sex: Male, want: 0.08},
		{age: 49, sex: Female, want: 0.08},
		{age: 50, sex: Male, want: 0.2},
		{age: 50, sex: Female, want: 0.1},
		{age: 120, sex: Male, want: 0.2},
	}
	for _, tc := range cases {
		got, err := table.Rate("hospital", tc.age, tc.sex)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tc.want {
			t.Fatalf("age %d %s: expected %v, got %v", tc.age, tc.sex, tc.want, got)
		}
	}
	if _, err := table.Rate("vaccinated", 10, Male); !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown parameter, got %v", err)
	}
}

func TestUnratedResidual(t *testing.T) {
	cfg, h, err := scenarioIndex(t, scenarioRates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o := h.Probabilities(30, Male, false)
	severe := o.Probability(cfg.MustTag("severe"))
	if math.Abs(severe-0.005) > 1e-12 {
		t.Fatalf("expected P(severe)=0.005, got %v", severe)
	}
	if len(o.Clipped) != 0 {
		t.Fatalf("expected no clipped residuals, got %v", o.Clipped)
	}
	if math.Abs(o.Total()-1) > 1e-9 {
		t.Fatalf("expected total mass 1, got %v", o.Total())
	}
}

func TestResidualIsClippedNotNegative(t *testing.T) {
	// male 50+ rates sum to just above 1
	csv := strings.Replace(scenarioRates, `"[50,99]",0.2,0.3,0.3,0.3,0.2,0.1,0.1,0.05,0.1,0.05`,
		`"[50,99]",0.3,0.3,0.3,0.3,0.2,0.1,0.1,0.05,0.1000000001,0.05`, 1)
	cfg, h, err := scenarioIndex(t, csv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o := h.Probabilities(70, Male, false)
	if p := o.Probability(cfg.MustTag("severe")); p != 0 {
		t.Fatalf("expected clipped residual 0, got %v", p)
	}
	if len(o.Clipped) != 1 || o.Clipped[0] != cfg.MustTag("severe") {
		t.Fatalf("expected severe flagged as clipped, got %v", o.Clipped)
	}
}

func TestOverfullRatesAreConfigErrors(t *testing.T) {
	csv := strings.Replace(scenarioRates, `"[50,99]",0.2,0.3`, `"[50,99]",0.6,0.3`, 1)
	_, _, err := scenarioIndex(t, csv)
	if !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "rates.gp.male.age50") {
		t.Fatalf("expected error to name the profile, got %v", err)
	}
}

func TestProbabilitiesSumToAtMostOne(t *testing.T) {
	cfg, err := disease.Load("../../configs/disease/covid19.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	table, err := LoadFile(cfg.RatesFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, err := NewHealthIndex(cfg, table, Options{UseCareHomeRates: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for age := 0; age <= 100; age++ {
		for _, sex := range []Sex{Male, Female} {
			for _, ch := range []bool{false, true} {
				o := h.Probabilities(age, sex, ch)
				if o.Total() > 1+1e-9 {
					t.Fatalf("age %d %s care=%v: total %v exceeds 1", age, sex, ch, o.Total())
				}
				for i, p := range o.Prob {
					if p < 0 {
						t.Fatalf("age %d %s: negative probability %v for %s", age, sex, p, cfg.TagName(o.Tags[i]))
					}
				}
			}
		}
	}

	general := h.Probabilities(80, Male, false).Probability(cfg.MustTag("dead_home"))
	resident := h.Probabilities(80, Male, true).Probability(cfg.MustTag("dead_home"))
	if resident <= general {
		t.Fatalf("expected care-home home fatality %v to exceed general %v", resident, general)
	}
}

func TestSelectUsesAscendingTagOrder(t *testing.T) {
	cfg, h, err := scenarioIndex(t, scenarioRates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o := h.Probabilities(20, Female, false)
	cases := []struct {
		u    float64
		want string
	}{
		{0, "asymptomatic"},
		{0.39, "asymptomatic"},
		{0.4, "mild"},
		{0.899, "mild"},
		{0.9001, "severe"},
		{0.95, "hospitalised"},
		{0.999, "dead_home"},
	}
	for _, tc := range cases {
		got, ok := o.Select(tc.u)
		if !ok {
			t.Fatalf("u=%v: expected a selection", tc.u)
		}
		if got != cfg.MustTag(tc.want) {
			t.Fatalf("u=%v: expected %s, got %s", tc.u, tc.want, cfg.TagName(got))
		}
	}
}

func TestEffectiveMultiplierShiftsSevereMass(t *testing.T) {
	cfg, h, err := scenarioIndex(t, scenarioRates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o := h.Probabilities(70, Male, false)
	mod := h.ApplyEffectiveMultiplier(o, 0.5)

	hosp := cfg.MustTag("hospitalised")
	if got, want := mod.Probability(hosp), o.Probability(hosp)*0.5; math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected hospitalised %v, got %v", want, got)
	}
	if math.Abs(mod.Total()-o.Total()) > 1e-9 {
		t.Fatalf("expected total mass preserved, got %v vs %v", mod.Total(), o.Total())
	}
	if mod.Probability(cfg.MustTag("mild")) <= o.Probability(cfg.MustTag("mild")) {
		t.Fatal("expected mild mass to grow")
	}
}
