package interaction

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"epicore/internal/simerr"
	"epicore/internal/world"
)

// ContactMatrix describes who meets whom inside one group spec. Rows are the
// susceptible subgroup, columns the infector subgroup.
type ContactMatrix struct {
	Contacts           [][]float64 `yaml:"contacts"`
	ProportionPhysical [][]float64 `yaml:"proportion_physical"`
	// CharacteristicTime is in hours.
	CharacteristicTime float64 `yaml:"characteristic_time"`
	// NormaliseBySize spreads contacts over the infector subgroup's size.
	NormaliseBySize bool `yaml:"normalise_by_size"`
}

// AgeSusceptibility scales the susceptibility of ages in [MinAge, MaxAge].
type AgeSusceptibility struct {
	MinAge int     `yaml:"min_age"`
	MaxAge int     `yaml:"max_age"`
	Value  float64 `yaml:"value"`
}

// Config is the parsed interaction document.
type Config struct {
	AlphaPhysical    float64                   `yaml:"alpha_physical"`
	Betas            map[string]float64        `yaml:"betas"`
	Susceptibilities []AgeSusceptibility       `yaml:"susceptibilities"`
	ContactMatrices  map[string]*ContactMatrix `yaml:"contact_matrices"`
}

// LoadConfig reads an interaction YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interaction config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes and validates an interaction document.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{AlphaPhysical: 1}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, simerr.Configf("interaction", err, "valid YAML document")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks matrix shapes and value ranges. Matrices for specs the
// world knows must cover every subgroup of that spec.
func (c *Config) Validate() error {
	if c.AlphaPhysical < 0 {
		return simerr.Config("interaction.alpha_physical", "a non-negative factor", fmt.Sprint(c.AlphaPhysical))
	}
	for spec, b := range c.Betas {
		if b < 0 {
			return simerr.Config("interaction.betas."+spec, "a non-negative factor", fmt.Sprint(b))
		}
	}
	for i, s := range c.Susceptibilities {
		if s.MinAge > s.MaxAge || s.Value < 0 {
			return simerr.Config(fmt.Sprintf("interaction.susceptibilities.%d", i),
				"min_age <= max_age and a non-negative value", fmt.Sprintf("%d-%d: %v", s.MinAge, s.MaxAge, s.Value))
		}
	}
	if len(c.ContactMatrices) == 0 {
		return simerr.Config("interaction.contact_matrices", "at least one group spec", "none")
	}
	for _, spec := range c.Specs() {
		if err := c.ContactMatrices[spec].validate(spec); err != nil {
			return err
		}
	}
	return nil
}

func (m *ContactMatrix) validate(spec string) error {
	key := "interaction.contact_matrices." + spec
	if m == nil {
		return simerr.Config(key, "a contact matrix", "null")
	}
	n := len(m.Contacts)
	if want, ok := world.SubgroupCounts[spec]; ok && n != want {
		return simerr.Config(key+".contacts", fmt.Sprintf("%dx%d matrix", want, want), fmt.Sprintf("%d rows", n))
	}
	if m.ProportionPhysical == nil {
		m.ProportionPhysical = make([][]float64, n)
		for i := range m.ProportionPhysical {
			m.ProportionPhysical[i] = make([]float64, n)
		}
	}
	if len(m.ProportionPhysical) != n {
		return simerr.Config(key+".proportion_physical", fmt.Sprintf("%d rows", n), fmt.Sprintf("%d rows", len(m.ProportionPhysical)))
	}
	for i := 0; i < n; i++ {
		if len(m.Contacts[i]) != n {
			return simerr.Config(fmt.Sprintf("%s.contacts.%d", key, i), fmt.Sprintf("%d columns", n), fmt.Sprintf("%d columns", len(m.Contacts[i])))
		}
		if len(m.ProportionPhysical[i]) != n {
			return simerr.Config(fmt.Sprintf("%s.proportion_physical.%d", key, i), fmt.Sprintf("%d columns", n), fmt.Sprintf("%d columns", len(m.ProportionPhysical[i])))
		}
		for j := 0; j < n; j++ {
			if m.Contacts[i][j] < 0 {
				return simerr.Config(fmt.Sprintf("%s.contacts.%d.%d", key, i, j), "a non-negative rate", fmt.Sprint(m.Contacts[i][j]))
			}
			if p := m.ProportionPhysical[i][j]; p < 0 || p > 1 {
				return simerr.Config(fmt.Sprintf("%s.proportion_physical.%d.%d", key, i, j), "a proportion in [0,1]", fmt.Sprint(p))
			}
		}
	}
	if m.CharacteristicTime <= 0 {
		return simerr.Config(key+".characteristic_time", "a positive number of hours", fmt.Sprint(m.CharacteristicTime))
	}
	return nil
}

// Specs lists the configured group specs, sorted.
func (c *Config) Specs() []string {
	out := make([]string, 0, len(c.ContactMatrices))
	for spec := range c.ContactMatrices {
		out = append(out, spec)
	}
	sort.Strings(out)
	return out
}

// Beta is the base intensity of a group spec; unlisted specs get 1.
func (c *Config) Beta(spec string) float64 {
	if b, ok := c.Betas[spec]; ok {
		return b
	}
	return 1
}

// Susceptibility is the age factor for age; ages in no band get 1.
func (c *Config) Susceptibility(age int) float64 {
	for _, s := range c.Susceptibilities {
		if age >= s.MinAge && age <= s.MaxAge {
			return s.Value
		}
	}
	return 1
}
