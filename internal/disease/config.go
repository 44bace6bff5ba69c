/*
Package disease
File: config.go
Description:

	Static disease configuration: the ranked symptom-tag catalogue, named stage
	groupings, outcome-rate to tag mapping, residual ("unrated") tags,
	trajectory templates and the transmission-curve parameter distributions.

	A Config is loaded once per run and never mutated afterwards.
*/
package disease

import (
	"fmt"
	"sort"

	"epicore/internal/dist"
)

// Tag is the integer severity rank of a symptom stage.
type Tag int

// SymptomTag names one rank in the catalogue.
type SymptomTag struct {
	Name  string `yaml:"name"`
	Value int    `yaml:"value"`
}

// TagSet is a small set of tags.
type TagSet map[Tag]struct{}

func newTagSet(tags ...Tag) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Contains reports whether t is in the set.
func (s TagSet) Contains(t Tag) bool {
	_, ok := s[t]
	return ok
}

// Sorted returns the tags in ascending rank.
func (s TagSet) Sorted() []Tag {
	out := make([]Tag, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RateMapping binds an outcome-rate parameter (a column family of the rate
// table) to the branch tag it selects.
type RateMapping struct {
	Parameter string
	Tag       Tag
}

// Unrated is a tag whose probability is the residual 1 - sum(Dependencies),
// subtracted in declaration order.
type Unrated struct {
	Tag          Tag
	Dependencies []Tag
}

// TemplateStage is one stage of a trajectory template.
type TemplateStage struct {
	Tag        Tag
	Completion dist.Distribution
}

// Template is one possible ordered disease path. The final stage is terminal
// and always has zero duration.
type Template struct {
	Stages []TemplateStage
	MaxTag Tag
}

// Transmission types.
const (
	TransmissionGamma    = "gamma"
	TransmissionConstant = "constant"
)

// TransmissionConfig holds the distributions sampled once per infection to
// build its infectiousness curve.
type TransmissionConfig struct {
	Type                  string
	MaxInfectiousness     dist.Distribution
	Shape                 dist.Distribution
	Rate                  dist.Distribution
	Shift                 dist.Distribution
	Probability           dist.Distribution
	AsymptomaticFactor    dist.Distribution
	MildFactor            dist.Distribution
	LinkedToSymptomsOnset bool
}

// Config is a validated disease configuration.
type Config struct {
	Name      string
	RatesFile string

	tags   []SymptomTag
	byName map[string]Tag
	names  map[Tag]string

	LowestStage          Tag
	MaxMildTag           Tag
	SymptomaticThreshold Tag
	DefaultOutcome       Tag
	CareHomeMinAge       int

	Fatality         TagSet
	Recovered        TagSet
	Hospitalised     TagSet
	IntensiveCare    TagSet
	StayAtHome       TagSet
	SevereStayAtHome TagSet

	Rates        []RateMapping
	Unrated      []Unrated
	Templates    []*Template
	Transmission TransmissionConfig
}

// Tags returns the catalogue in ascending rank.
func (c *Config) Tags() []SymptomTag {
	out := make([]SymptomTag, len(c.tags))
	copy(out, c.tags)
	return out
}

// Lookup returns the tag for name.
func (c *Config) Lookup(name string) (Tag, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// MustTag returns the tag for name and panics if it is not catalogued.
func (c *Config) MustTag(name string) Tag {
	t, ok := c.byName[name]
	if !ok {
		panic(fmt.Sprintf("disease %s: unknown symptom tag %q", c.Name, name))
	}
	return t
}

// TagName returns the catalogue name of t.
func (c *Config) TagName(t Tag) string {
	if n, ok := c.names[t]; ok {
		return n
	}
	return fmt.Sprintf("tag(%d)", int(t))
}

// Known reports whether t is in the catalogue.
func (c *Config) Known(t Tag) bool {
	_, ok := c.names[t]
	return ok
}

// MaxTagValue is the highest rank in the catalogue.
func (c *Config) MaxTagValue() Tag {
	return Tag(c.tags[len(c.tags)-1].Value)
}

// Terminal reports whether t ends an infection.
func (c *Config) Terminal(t Tag) bool {
	return c.Fatality.Contains(t) || c.Recovered.Contains(t)
}

// Dead reports whether t is a fatality stage.
func (c *Config) Dead(t Tag) bool { return c.Fatality.Contains(t) }

// NeedsHospital reports whether t requires a ward or ICU bed.
func (c *Config) NeedsHospital(t Tag) bool {
	return c.Hospitalised.Contains(t) || c.IntensiveCare.Contains(t)
}

// TemplateFor returns the template whose most severe stage is t.
func (c *Config) TemplateFor(t Tag) (*Template, bool) {
	for _, tpl := range c.Templates {
		if tpl.MaxTag == t {
			return tpl, true
		}
	}
	return nil, false
}
