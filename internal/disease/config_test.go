package disease

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"epicore/internal/simerr"
)

const covidPath = "../../configs/disease/covid19.yaml"

func loadCovid(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(covidPath)
	if err != nil {
		t.Fatalf("unexpected error loading %s: %v", covidPath, err)
	}
	return cfg
}

func TestLoadCovidConfig(t *testing.T) {
	cfg := loadCovid(t)

	if cfg.LowestStage != cfg.MustTag("exposed") {
		t.Fatalf("expected lowest stage exposed, got %s", cfg.TagName(cfg.LowestStage))
	}
	if len(cfg.Templates) != 8 {
		t.Fatalf("expected 8 trajectories, got %d", len(cfg.Templates))
	}
	if !cfg.Dead(cfg.MustTag("dead_icu")) || cfg.Dead(cfg.MustTag("recovered")) {
		t.Fatal("fatality grouping resolved incorrectly")
	}
	if !cfg.NeedsHospital(cfg.MustTag("intensive_care")) {
		t.Fatal("expected intensive_care to need a hospital bed")
	}
	if len(cfg.Rates) != 7 || cfg.Rates[0].Parameter != "asymptomatic" || cfg.Rates[6].Parameter != "icu_ifr" {
		t.Fatalf("expected rates ordered as declared, got %+v", cfg.Rates)
	}
	if len(cfg.Unrated) != 1 || cfg.Unrated[0].Tag != cfg.MustTag("severe") {
		t.Fatalf("expected severe to be the unrated tag, got %+v", cfg.Unrated)
	}
	if cfg.CareHomeMinAge != 50 {
		t.Fatalf("expected care home min age 50, got %d", cfg.CareHomeMinAge)
	}
	if !strings.HasSuffix(filepath.ToSlash(cfg.RatesFile), "configs/data/infection_outcome_rates_covid19.csv") {
		t.Fatalf("expected rates file resolved next to configs, got %q", cfg.RatesFile)
	}
}

func TestTemplatesEndTerminalWithZeroDuration(t *testing.T) {
	cfg := loadCovid(t)
	for _, tpl := range cfg.Templates {
		last := tpl.Stages[len(tpl.Stages)-1]
		if !cfg.Terminal(last.Tag) {
			t.Fatalf("template %s ends on non-terminal %s", cfg.TagName(tpl.MaxTag), cfg.TagName(last.Tag))
		}
		if d := last.Completion.Sample(nil); d != 0 {
			t.Fatalf("expected terminal stage duration 0, got %v", d)
		}
		if tpl.Stages[0].Tag != cfg.LowestStage {
			t.Fatalf("template %s does not start at the lowest stage", cfg.TagName(tpl.MaxTag))
		}
	}

	icu, ok := cfg.TemplateFor(cfg.MustTag("intensive_care"))
	if !ok {
		t.Fatal("expected a template with intensive_care as most severe stage")
	}
	if len(icu.Stages) != 6 {
		t.Fatalf("expected ICU recovery path of 6 stages, got %d", len(icu.Stages))
	}
}

const minimalDisease = `
disease:
  name: tiny
  settings:
    default_lowest_stage: exposed
    fatality_stage: [{name: dead}]
    recovered_stage: [{name: recovered}]
  symptom_tags:
    - {name: recovered, value: -2}
    - {name: exposed, value: 0}
    - {name: mild, value: 2}
    - {name: dead, value: 6}
  rate_to_tag_mapping:
    ifr: dead
  unrated_tags:
    - name: mild
      rate_calc_dependency: [dead]
  transmission:
    type: constant
    probability: {type: constant, value: 0.3}
  trajectories:
    - stages:
        - symptom_tag: exposed
          completion_time: {type: constant, value: 1}
        - symptom_tag: mild
          completion_time: {type: constant, value: 2}
        - symptom_tag: recovered
    - stages:
        - symptom_tag: exposed
          completion_time: {type: constant, value: 1}
        - symptom_tag: dead
`

func TestParseMinimalDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalDisease))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SymptomaticThreshold != cfg.MustTag("mild") {
		t.Fatalf("expected symptomatic threshold to default to mild, got %s", cfg.TagName(cfg.SymptomaticThreshold))
	}
	if cfg.DefaultOutcome != cfg.MustTag("mild") {
		t.Fatalf("expected default outcome mild, got %s", cfg.TagName(cfg.DefaultOutcome))
	}
	if cfg.Transmission.Type != TransmissionConstant {
		t.Fatalf("expected constant transmission, got %q", cfg.Transmission.Type)
	}
	if f := cfg.Transmission.AsymptomaticFactor.Sample(nil); f != 1 {
		t.Fatalf("expected asymptomatic factor to default to 1, got %v", f)
	}
}

func TestParseRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]struct {
		from, to string
		key      string
	}{
		"unknown stage tag": {
			from: "- symptom_tag: mild\n", to: "- symptom_tag: bogus\n",
			key: "symptom_tag",
		},
		"missing completion time": {
			from: "          completion_time: {type: constant, value: 2}\n", to: "",
			key: "completion_time",
		},
		"unknown rate tag": {
			from: "ifr: dead", to: "ifr: zombie",
			key: "rate_to_tag_mapping.ifr",
		},
		"non-terminal final stage": {
			from: "        - symptom_tag: dead\n", to: "        - symptom_tag: mild\n",
			key: "trajectories.1",
		},
		"bad transmission type": {
			from: "type: constant\n    probability", to: "type: sigmoid\n    probability",
			key: "transmission.type",
		},
		"duplicate tag value": {
			from: "{name: mild, value: 2}", to: "{name: mild, value: 0}",
			key: "symptom_tags.mild",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			doc := strings.Replace(minimalDisease, tc.from, tc.to, 1)
			if doc == minimalDisease {
				t.Fatalf("replacement %q did not apply", tc.from)
			}
			_, err := Parse([]byte(doc))
			if !errors.Is(err, simerr.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("expected error to name %q, got %v", tc.key, err)
			}
		})
	}
}

func TestParseRequiresDiseaseSection(t *testing.T) {
	_, err := Parse([]byte("policies: {}\n"))
	if !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
