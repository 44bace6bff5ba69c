package rates

import (
	"fmt"
	"log"
	"sort"

	"epicore/internal/disease"
	"epicore/internal/simerr"
)

// sumTolerance is how far the branch probabilities of one profile may exceed
// one before the configuration is rejected.
const sumTolerance = 1e-6

// Outcome is the branch probability vector for one profile. Tags are in
// ascending rank, which is also the selection tie-break order.
type Outcome struct {
	Tags []disease.Tag
	Prob []float64
	Cum  []float64
	// Clipped lists unrated tags whose residual went negative and was set to 0.
	Clipped []disease.Tag
}

// Probability returns the branch probability of tag.
func (o Outcome) Probability(tag disease.Tag) float64 {
	for i, t := range o.Tags {
		if t == tag {
			return o.Prob[i]
		}
	}
	return 0
}

// Total is the sum of all branch probabilities.
func (o Outcome) Total() float64 {
	if len(o.Cum) == 0 {
		return 0
	}
	return o.Cum[len(o.Cum)-1]
}

// Select returns the first tag whose cumulative probability exceeds u, or
// false when u falls beyond the total mass.
func (o Outcome) Select(u float64) (disease.Tag, bool) {
	i := sort.Search(len(o.Cum), func(i int) bool { return o.Cum[i] > u })
	if i == len(o.Cum) {
		return 0, false
	}
	return o.Tags[i], true
}

func (o *Outcome) accumulate() {
	o.Cum = make([]float64, len(o.Prob))
	sum := 0.0
	for i, p := range o.Prob {
		sum += p
		o.Cum[i] = sum
	}
}

// HealthIndex precomputes Outcome vectors for every age, sex and population
// covered by a rate table. It is read-only after construction and safe for
// concurrent use.
type HealthIndex struct {
	cfg      *disease.Config
	maxAge   int
	careHome bool
	// outcomes[pop][sex][age]
	outcomes map[Population]map[Sex][]Outcome
}

// Options tunes health index construction.
type Options struct {
	// UseCareHomeRates enables the ch rate family for care-home residents.
	// Tables without ch columns fall back to gp regardless.
	UseCareHomeRates bool
}

// NewHealthIndex validates that table carries every rate parameter mapped by
// cfg and precomputes the outcome vectors.
func NewHealthIndex(cfg *disease.Config, table *Table, opts Options) (*HealthIndex, error) {
	h := &HealthIndex{
		cfg:      cfg,
		maxAge:   table.MaxAge(),
		outcomes: make(map[Population]map[Sex][]Outcome),
	}
	for _, rm := range cfg.Rates {
		if !table.Has(General, rm.Parameter) {
			return nil, simerr.Config("rates.gp_"+rm.Parameter, "male and female columns for outcome rate "+rm.Parameter, "missing")
		}
	}
	if err := h.checkTemplates(); err != nil {
		return nil, err
	}

	pops := []Population{General}
	if opts.UseCareHomeRates {
		h.careHome = true
		for _, rm := range cfg.Rates {
			if !table.Has(CareHome, rm.Parameter) {
				h.careHome = false
				break
			}
		}
		if h.careHome {
			pops = append(pops, CareHome)
		} else {
			log.Printf("rates: care-home columns incomplete, using general population rates for residents")
		}
	}

	clipped := make(map[disease.Tag]int)
	for _, pop := range pops {
		h.outcomes[pop] = make(map[Sex][]Outcome)
		for _, sex := range []Sex{Male, Female} {
			vec := make([]Outcome, h.maxAge+1)
			for age := 0; age <= h.maxAge; age++ {
				o, err := h.compute(table, pop, sex, age)
				if err != nil {
					return nil, err
				}
				for _, t := range o.Clipped {
					clipped[t]++
				}
				vec[age] = o
			}
			h.outcomes[pop][sex] = vec
		}
	}
	for t, n := range clipped {
		log.Printf("rates: negative residual for %s clipped to 0 in %d profiles", cfg.TagName(t), n)
	}
	return h, nil
}

// checkTemplates ensures every tag that can carry mass selects a template.
func (h *HealthIndex) checkTemplates() error {
	need := func(t disease.Tag, key string) error {
		if _, ok := h.cfg.TemplateFor(t); !ok {
			return simerr.Config(key, "a trajectory whose most severe stage is "+h.cfg.TagName(t), "none")
		}
		return nil
	}
	for _, rm := range h.cfg.Rates {
		if err := need(rm.Tag, "rate_to_tag_mapping."+rm.Parameter); err != nil {
			return err
		}
	}
	for _, u := range h.cfg.Unrated {
		if err := need(u.Tag, "unrated_tags."+h.cfg.TagName(u.Tag)); err != nil {
			return err
		}
	}
	return need(h.cfg.DefaultOutcome, "settings.default_outcome_stage")
}

func (h *HealthIndex) compute(table *Table, pop Population, sex Sex, age int) (Outcome, error) {
	tags := h.cfg.Tags()
	o := Outcome{
		Tags: make([]disease.Tag, len(tags)),
		Prob: make([]float64, len(tags)),
	}
	idx := make(map[disease.Tag]int, len(tags))
	for i, st := range tags {
		o.Tags[i] = disease.Tag(st.Value)
		idx[o.Tags[i]] = i
	}

	for _, rm := range h.cfg.Rates {
		r, err := table.RateFor(pop, rm.Parameter, age, sex)
		if err != nil {
			return Outcome{}, err
		}
		o.Prob[idx[rm.Tag]] = r
	}
	for _, u := range h.cfg.Unrated {
		residual := 1.0
		for _, dep := range u.Dependencies {
			residual -= o.Prob[idx[dep]]
		}
		if residual < 0 {
			residual = 0
			o.Clipped = append(o.Clipped, u.Tag)
		}
		o.Prob[idx[u.Tag]] = residual
	}
	for i, t := range o.Tags {
		if t < h.cfg.LowestStage {
			o.Prob[i] = 0
		}
	}

	total := 0.0
	for _, p := range o.Prob {
		total += p
	}
	if total > 1+sumTolerance {
		return Outcome{}, simerr.Config(fmt.Sprintf("rates.%s.%s.age%d", pop, sex, age),
			"branch probabilities summing to at most 1", fmt.Sprintf("%.6f", total))
	}
	if rest := 1 - total; rest > 0 {
		o.Prob[idx[h.cfg.DefaultOutcome]] += rest
	}
	o.accumulate()
	return o, nil
}

// Probabilities returns the outcome vector for a person. Care-home residents
// at or above the configured minimum age use the ch family when enabled.
func (h *HealthIndex) Probabilities(age int, sex Sex, careHome bool) Outcome {
	pop := General
	if careHome && h.careHome && age >= h.cfg.CareHomeMinAge {
		pop = CareHome
	}
	if sex != Female {
		sex = Male
	}
	if age < 0 {
		age = 0
	}
	if age > h.maxAge {
		age = h.maxAge
	}
	return h.outcomes[pop][sex][age]
}

// ApplyEffectiveMultiplier rescales the mass of every tag at or above the
// disease's max mild tag by m and renormalises the milder tags so the total
// is preserved. m is clamped to [0, 1].
func (h *HealthIndex) ApplyEffectiveMultiplier(o Outcome, m float64) Outcome {
	if m >= 1 {
		return o
	}
	if m < 0 {
		m = 0
	}
	out := Outcome{
		Tags:    o.Tags,
		Prob:    make([]float64, len(o.Prob)),
		Clipped: o.Clipped,
	}
	mild, severe := 0.0, 0.0
	for i, t := range o.Tags {
		if t < h.cfg.MaxMildTag {
			mild += o.Prob[i]
		} else {
			severe += o.Prob[i]
		}
	}
	freed := severe * (1 - m)
	for i, t := range o.Tags {
		switch {
		case t >= h.cfg.MaxMildTag:
			out.Prob[i] = o.Prob[i] * m
		case mild > 0:
			out.Prob[i] = o.Prob[i] * (mild + freed) / mild
		}
	}
	if mild == 0 && freed > 0 {
		for i, t := range o.Tags {
			if t == h.cfg.DefaultOutcome {
				out.Prob[i] += freed
			}
		}
	}
	out.accumulate()
	return out
}
