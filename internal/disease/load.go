package disease

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"epicore/internal/dist"
	"epicore/internal/simerr"
)

type fileYAML struct {
	Disease *diseaseYAML `yaml:"disease"`
}

type namedYAML struct {
	Name string `yaml:"name"`
}

type settingsYAML struct {
	DefaultLowestStage  string      `yaml:"default_lowest_stage"`
	MaxMildSymptomTag   string      `yaml:"max_mild_symptom_tag"`
	SymptomaticStage    string      `yaml:"symptomatic_stage"`
	DefaultOutcomeStage string      `yaml:"default_outcome_stage"`
	CareHomeMinAge      *int        `yaml:"care_home_min_age"`
	FatalityStage       []namedYAML `yaml:"fatality_stage"`
	RecoveredStage      []namedYAML `yaml:"recovered_stage"`
	HospitalisedStage   []namedYAML `yaml:"hospitalised_stage"`
	IntensiveCareStage  []namedYAML `yaml:"intensive_care_stage"`
	StayAtHomeStage     []namedYAML `yaml:"stay_at_home_stage"`
	SevereStayAtHome    []namedYAML `yaml:"severe_symptoms_stay_at_home_stage"`
}

type unratedYAML struct {
	Name               string   `yaml:"name"`
	RateCalcDependency []string `yaml:"rate_calc_dependency"`
}

type stageYAML struct {
	SymptomTag     string     `yaml:"symptom_tag"`
	CompletionTime *dist.Spec `yaml:"completion_time"`
}

type trajectoryYAML struct {
	Stages []stageYAML `yaml:"stages"`
}

type transmissionYAML struct {
	Type                  string     `yaml:"type"`
	LinkedToSymptomsOnset bool       `yaml:"linked_to_symptoms_onset"`
	MaxInfectiousness     *dist.Spec `yaml:"max_infectiousness"`
	Shape                 *dist.Spec `yaml:"shape"`
	Rate                  *dist.Spec `yaml:"rate"`
	Shift                 *dist.Spec `yaml:"shift"`
	Probability           *dist.Spec `yaml:"probability"`
	AsymptomaticFactor    *dist.Spec `yaml:"asymptomatic_infectious_factor"`
	MildFactor            *dist.Spec `yaml:"mild_infectious_factor"`
}

type diseaseYAML struct {
	Name         string            `yaml:"name"`
	RatesFile    string            `yaml:"rates_file"`
	Settings     settingsYAML      `yaml:"settings"`
	SymptomTags  []SymptomTag      `yaml:"symptom_tags"`
	OutcomeRates []struct {
		Parameter string `yaml:"parameter"`
	} `yaml:"infection_outcome_rates"`
	RateToTag    map[string]string `yaml:"rate_to_tag_mapping"`
	UnratedTags  []unratedYAML     `yaml:"unrated_tags"`
	Trajectories []trajectoryYAML  `yaml:"trajectories"`
	Transmission *transmissionYAML `yaml:"transmission"`
}

// Load reads and validates a disease YAML file. A relative rates_file is
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read disease config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.RatesFile != "" && !filepath.IsAbs(cfg.RatesFile) {
		cfg.RatesFile = filepath.Join(filepath.Dir(path), cfg.RatesFile)
	}
	return cfg, nil
}

// Parse decodes and validates a disease YAML document.
func Parse(data []byte) (*Config, error) {
	var doc fileYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, simerr.Configf("disease", err, "valid YAML document")
	}
	if doc.Disease == nil {
		return nil, simerr.Config("disease", "top-level 'disease' section", "none")
	}
	return build(doc.Disease)
}

func build(d *diseaseYAML) (*Config, error) {
	name := d.Name
	if name == "" {
		name = "disease"
	}
	key := func(parts ...string) string {
		k := name
		for _, p := range parts {
			k += "." + p
		}
		return k
	}

	if len(d.SymptomTags) == 0 {
		return nil, simerr.Config(key("symptom_tags"), "non-empty list of {name, value}", "empty")
	}
	cfg := &Config{
		Name:      name,
		RatesFile: d.RatesFile,
		byName:    make(map[string]Tag, len(d.SymptomTags)),
		names:     make(map[Tag]string, len(d.SymptomTags)),
	}
	for _, st := range d.SymptomTags {
		if st.Name == "" {
			return nil, simerr.Config(key("symptom_tags"), "named tag", fmt.Sprintf("value %d without name", st.Value))
		}
		if _, dup := cfg.byName[st.Name]; dup {
			return nil, simerr.Config(key("symptom_tags", st.Name), "unique tag name", "duplicate")
		}
		if prev, dup := cfg.names[Tag(st.Value)]; dup {
			return nil, simerr.Config(key("symptom_tags", st.Name), "unique tag value",
				fmt.Sprintf("value %d already used by %q", st.Value, prev))
		}
		cfg.byName[st.Name] = Tag(st.Value)
		cfg.names[Tag(st.Value)] = st.Name
		cfg.tags = append(cfg.tags, st)
	}
	sort.Slice(cfg.tags, func(i, j int) bool { return cfg.tags[i].Value < cfg.tags[j].Value })

	resolve := func(k, tagName string) (Tag, error) {
		t, ok := cfg.byName[tagName]
		if !ok {
			return 0, simerr.Config(k, "a catalogued symptom tag", fmt.Sprintf("%q", tagName))
		}
		return t, nil
	}
	resolveSet := func(k string, list []namedYAML) (TagSet, error) {
		set := newTagSet()
		for _, n := range list {
			t, err := resolve(k, n.Name)
			if err != nil {
				return nil, err
			}
			set[t] = struct{}{}
		}
		return set, nil
	}

	s := d.Settings
	var err error
	if s.DefaultLowestStage == "" {
		return nil, simerr.Config(key("settings", "default_lowest_stage"), "a symptom tag name", "missing")
	}
	if cfg.LowestStage, err = resolve(key("settings", "default_lowest_stage"), s.DefaultLowestStage); err != nil {
		return nil, err
	}
	if cfg.Fatality, err = resolveSet(key("settings", "fatality_stage"), s.FatalityStage); err != nil {
		return nil, err
	}
	if cfg.Recovered, err = resolveSet(key("settings", "recovered_stage"), s.RecoveredStage); err != nil {
		return nil, err
	}
	if len(cfg.Fatality) == 0 || len(cfg.Recovered) == 0 {
		return nil, simerr.Config(key("settings"), "non-empty fatality_stage and recovered_stage",
			fmt.Sprintf("%d fatality, %d recovered", len(cfg.Fatality), len(cfg.Recovered)))
	}
	if cfg.Hospitalised, err = resolveSet(key("settings", "hospitalised_stage"), s.HospitalisedStage); err != nil {
		return nil, err
	}
	if cfg.IntensiveCare, err = resolveSet(key("settings", "intensive_care_stage"), s.IntensiveCareStage); err != nil {
		return nil, err
	}
	if cfg.StayAtHome, err = resolveSet(key("settings", "stay_at_home_stage"), s.StayAtHomeStage); err != nil {
		return nil, err
	}
	if cfg.SevereStayAtHome, err = resolveSet(key("settings", "severe_symptoms_stay_at_home_stage"), s.SevereStayAtHome); err != nil {
		return nil, err
	}

	fallback := func(explicit string, candidates ...string) string {
		if explicit != "" {
			return explicit
		}
		for _, c := range candidates {
			if _, ok := cfg.byName[c]; ok {
				return c
			}
		}
		return ""
	}
	symptomatic := fallback(s.SymptomaticStage, "mild")
	if symptomatic == "" {
		return nil, simerr.Config(key("settings", "symptomatic_stage"), "a symptom tag name", "missing and no 'mild' tag")
	}
	if cfg.SymptomaticThreshold, err = resolve(key("settings", "symptomatic_stage"), symptomatic); err != nil {
		return nil, err
	}
	cfg.MaxMildTag = cfg.SymptomaticThreshold + 1
	if mm := fallback(s.MaxMildSymptomTag, "severe"); mm != "" {
		if cfg.MaxMildTag, err = resolve(key("settings", "max_mild_symptom_tag"), mm); err != nil {
			return nil, err
		}
	}
	cfg.DefaultOutcome = cfg.SymptomaticThreshold
	if s.DefaultOutcomeStage != "" {
		if cfg.DefaultOutcome, err = resolve(key("settings", "default_outcome_stage"), s.DefaultOutcomeStage); err != nil {
			return nil, err
		}
	}
	cfg.CareHomeMinAge = 50
	if s.CareHomeMinAge != nil {
		cfg.CareHomeMinAge = *s.CareHomeMinAge
	}

	if err := buildTemplates(cfg, d.Trajectories, key); err != nil {
		return nil, err
	}
	if err := buildRates(cfg, d, key, resolve); err != nil {
		return nil, err
	}
	if err := buildTransmission(cfg, d.Transmission, key); err != nil {
		return nil, err
	}
	if _, ok := cfg.TemplateFor(cfg.DefaultOutcome); !ok {
		return nil, simerr.Config(key("settings", "default_outcome_stage"), "a tag that is the most severe stage of a trajectory",
			fmt.Sprintf("%q", cfg.TagName(cfg.DefaultOutcome)))
	}
	return cfg, nil
}

func buildTemplates(cfg *Config, trajectories []trajectoryYAML, key func(...string) string) error {
	if len(trajectories) == 0 {
		return simerr.Config(key("trajectories"), "at least one trajectory", "none")
	}
	for i, tr := range trajectories {
		k := key("trajectories", fmt.Sprint(i))
		if len(tr.Stages) < 2 {
			return simerr.Config(k, "at least two stages", fmt.Sprintf("%d", len(tr.Stages)))
		}
		tpl := &Template{}
		for j, st := range tr.Stages {
			sk := fmt.Sprintf("%s.stages.%d", k, j)
			tag, ok := cfg.byName[st.SymptomTag]
			if !ok {
				return simerr.Config(sk+".symptom_tag", "a catalogued symptom tag", fmt.Sprintf("%q", st.SymptomTag))
			}
			last := j == len(tr.Stages)-1
			switch {
			case j == 0 && tag != cfg.LowestStage:
				return simerr.Config(sk, "first stage "+cfg.TagName(cfg.LowestStage), st.SymptomTag)
			case last && !cfg.Terminal(tag):
				return simerr.Config(sk, "final stage in fatality_stage or recovered_stage", st.SymptomTag)
			case !last && cfg.Terminal(tag):
				return simerr.Config(sk, "non-terminal intermediate stage", st.SymptomTag)
			}

			stage := TemplateStage{Tag: tag, Completion: dist.Constant{Value: 0}}
			if !last {
				if st.CompletionTime == nil {
					return simerr.Config(sk+".completion_time", "a distribution", "missing")
				}
				d, err := dist.New(*st.CompletionTime)
				if err != nil {
					return fmt.Errorf("%s: %w", sk, err)
				}
				stage.Completion = d
			}
			tpl.Stages = append(tpl.Stages, stage)
			if j == 0 || tag > tpl.MaxTag {
				tpl.MaxTag = tag
			}
		}
		if prev, dup := cfg.TemplateFor(tpl.MaxTag); dup && prev != nil {
			return simerr.Config(k, "a unique most severe stage per trajectory",
				fmt.Sprintf("%q shared with another trajectory", cfg.TagName(tpl.MaxTag)))
		}
		cfg.Templates = append(cfg.Templates, tpl)
	}
	return nil
}

func buildRates(cfg *Config, d *diseaseYAML, key func(...string) string, resolve func(string, string) (Tag, error)) error {
	params := make([]string, 0, len(d.RateToTag))
	seen := make(map[string]bool)
	for _, o := range d.OutcomeRates {
		if _, ok := d.RateToTag[o.Parameter]; !ok {
			return simerr.Config(key("rate_to_tag_mapping"), "an entry for outcome rate "+o.Parameter, "none")
		}
		params = append(params, o.Parameter)
		seen[o.Parameter] = true
	}
	var rest []string
	for p := range d.RateToTag {
		if !seen[p] {
			rest = append(rest, p)
		}
	}
	sort.Strings(rest)
	params = append(params, rest...)

	used := make(map[Tag]string)
	for _, p := range params {
		tag, err := resolve(key("rate_to_tag_mapping", p), d.RateToTag[p])
		if err != nil {
			return err
		}
		if other, dup := used[tag]; dup {
			return simerr.Config(key("rate_to_tag_mapping", p), "one parameter per tag",
				fmt.Sprintf("tag %q also mapped from %q", d.RateToTag[p], other))
		}
		if !cfg.reachable(tag) {
			return simerr.Config(key("rate_to_tag_mapping", p), "a tag reached by at least one trajectory", d.RateToTag[p])
		}
		used[tag] = p
		cfg.Rates = append(cfg.Rates, RateMapping{Parameter: p, Tag: tag})
	}

	for _, u := range d.UnratedTags {
		k := key("unrated_tags", u.Name)
		tag, err := resolve(k, u.Name)
		if err != nil {
			return err
		}
		if _, dup := used[tag]; dup {
			return simerr.Config(k, "a tag without a rate parameter", "tag is rated by "+used[tag])
		}
		if len(u.RateCalcDependency) == 0 {
			return simerr.Config(k+".rate_calc_dependency", "a non-empty ordered list", "empty")
		}
		un := Unrated{Tag: tag}
		for _, dep := range u.RateCalcDependency {
			dt, err := resolve(k+".rate_calc_dependency", dep)
			if err != nil {
				return err
			}
			un.Dependencies = append(un.Dependencies, dt)
		}
		cfg.Unrated = append(cfg.Unrated, un)
	}
	return nil
}

func (c *Config) reachable(t Tag) bool {
	for _, tpl := range c.Templates {
		for _, st := range tpl.Stages {
			if st.Tag == t {
				return true
			}
		}
	}
	return false
}

func buildTransmission(cfg *Config, t *transmissionYAML, key func(...string) string) error {
	k := key("transmission")
	if t == nil {
		return simerr.Config(k, "a transmission section", "none")
	}
	tc := TransmissionConfig{Type: t.Type, LinkedToSymptomsOnset: t.LinkedToSymptomsOnset}
	need := func(name string, spec *dist.Spec, def *dist.Spec) (dist.Distribution, error) {
		if spec == nil {
			if def == nil {
				return nil, simerr.Config(k+"."+name, "a distribution", "missing")
			}
			spec = def
		}
		d, err := dist.New(*spec)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", k, name, err)
		}
		return d, nil
	}
	one := dist.Const(1)

	var err error
	switch t.Type {
	case TransmissionGamma:
		if tc.MaxInfectiousness, err = need("max_infectiousness", t.MaxInfectiousness, &one); err != nil {
			return err
		}
		if tc.Shape, err = need("shape", t.Shape, nil); err != nil {
			return err
		}
		if tc.Rate, err = need("rate", t.Rate, nil); err != nil {
			return err
		}
		if tc.Shift, err = need("shift", t.Shift, nil); err != nil {
			return err
		}
	case TransmissionConstant:
		if tc.Probability, err = need("probability", t.Probability, nil); err != nil {
			return err
		}
	default:
		return simerr.Config(k+".type", "gamma or constant", fmt.Sprintf("%q", t.Type))
	}
	if tc.AsymptomaticFactor, err = need("asymptomatic_infectious_factor", t.AsymptomaticFactor, &one); err != nil {
		return err
	}
	if tc.MildFactor, err = need("mild_infectious_factor", t.MildFactor, &one); err != nil {
		return err
	}
	cfg.Transmission = tc
	return nil
}
