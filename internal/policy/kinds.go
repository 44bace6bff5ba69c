package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"epicore/internal/simerr"
)

// Class partitions policies by what they act on.
type Class string

const (
	ClassIndividual  Class = "individual"
	ClassInteraction Class = "interaction"
	ClassLeisure     Class = "leisure"
	ClassRegional    Class = "regional"
	ClassMedicalCare Class = "medical_care"
	ClassVaccination Class = "vaccination"
)

// Policy kind names as they appear in configuration.
const (
	KindSevereSymptomsStayHome   = "severe_symptoms_stay_home"
	KindQuarantine               = "quarantine"
	KindShielding                = "shielding"
	KindCloseSchools             = "close_schools"
	KindCloseCompanies           = "close_companies"
	KindCloseUniversities        = "close_universities"
	KindSocialDistancing         = "social_distancing"
	KindMaskWearing              = "mask_wearing"
	KindCloseLeisureVenue        = "close_leisure_venue"
	KindChangeLeisureProbability = "change_leisure_probability"
	KindRegionalCompliance       = "regional_compliance"
	KindTieredLockdown           = "tiered_lockdown"
	KindHospitalisation          = "hospitalisation"
	KindVaccineDistribution      = "vaccine_distribution"
)

type SevereSymptomsStayHome struct {
	Compliance float64 `yaml:"compliance"`
}

// Quarantine keeps symptomatic people home for NDays after onset, and their
// household for NDaysHousehold.
type Quarantine struct {
	NDays               float64 `yaml:"n_days"`
	NDaysHousehold      float64 `yaml:"n_days_household"`
	Compliance          float64 `yaml:"compliance"`
	HouseholdCompliance float64 `yaml:"household_compliance"`
}

type Shielding struct {
	MinAge     int     `yaml:"min_age"`
	Compliance float64 `yaml:"compliance"`
}

// CloseSchools sends closed year groups home. Students of open years attend
// with probability AttendingCompliance.
type CloseSchools struct {
	FullClosure         bool    `yaml:"full_closure"`
	YearsToClose        []int   `yaml:"years_to_close"`
	AttendingCompliance float64 `yaml:"attending_compliance"`
}

// CloseCompanies keeps workers home. Key sectors keep working unless the
// closure is full.
type CloseCompanies struct {
	FullClosure          bool     `yaml:"full_closure"`
	AvoidWorkProbability float64  `yaml:"avoid_work_probability"`
	KeySectors           []string `yaml:"key_sectors"`
}

type CloseUniversities struct{}

// SocialDistancing multiplies the contact intensity of each group spec.
type SocialDistancing struct {
	BetaFactors map[string]float64 `yaml:"beta_factors"`
}

// MaskWearing reduces a spec's intensity by 1 - p*compliance*(1-beta_factor)
// where p is the mask probability for the group type.
type MaskWearing struct {
	Compliance        float64            `yaml:"compliance"`
	BetaFactor        float64            `yaml:"beta_factor"`
	MaskProbabilities map[string]float64 `yaml:"mask_probabilities"`
}

type CloseLeisureVenue struct {
	VenuesToClose []string `yaml:"venues_to_close"`
}

// ChangeLeisureProbability scales the probability of visiting each venue spec.
type ChangeLeisureProbability struct {
	ActivityReductions map[string]float64 `yaml:"activity_reductions"`
}

type RegionalCompliance struct {
	CompliancesPerRegion map[string]float64 `yaml:"compliances_per_region"`
}

// TieredLockdown assigns each region a tier. Tiers close venues and scale
// non-residential intensities by TierBetaFactors.
type TieredLockdown struct {
	TiersPerRegion  map[string]int  `yaml:"tiers_per_region"`
	TierBetaFactors map[int]float64 `yaml:"tier_beta_factors"`
}

type Hospitalisation struct{}

// VaccineDistribution vaccinates eligible people so that Coverage of them
// are reached over RolloutDays.
type VaccineDistribution struct {
	MinAge            int     `yaml:"min_age"`
	MaxAge            int     `yaml:"max_age"`
	CareHomeResidents bool    `yaml:"care_home_residents"`
	Coverage          float64 `yaml:"coverage"`
	RolloutDays       float64 `yaml:"rollout_days"`
	Efficacy          float64 `yaml:"efficacy"`
	SeverityEfficacy  float64 `yaml:"severity_efficacy"`
}

// tierClosures lists the venue specs closed at each lockdown tier.
var tierClosures = map[int][]string{
	2: {"residence_visits"},
	3: {"residence_visits", "cinema"},
	4: {"residence_visits", "cinema", "pub", "gym"},
}

type kindSpec struct {
	class          Class
	// windowOptional kinds are always active when no window is configured.
	windowOptional bool
	decode         func(node *yaml.Node) (any, error)
}

// kinds is the dispatch table from configuration name to variant.
var kinds = map[string]kindSpec{
	KindSevereSymptomsStayHome: {
		class:  ClassIndividual,
		decode: decodeAs(SevereSymptomsStayHome{Compliance: 1}, nil),
	},
	KindQuarantine: {
		class:  ClassIndividual,
		decode: decodeAs(Quarantine{NDays: 7, NDaysHousehold: 14, Compliance: 1, HouseholdCompliance: 1}, validateQuarantine),
	},
	KindShielding: {
		class:  ClassIndividual,
		decode: decodeAs(Shielding{MinAge: 70, Compliance: 1}, func(s *Shielding) error { return probabilities(s.Compliance) }),
	},
	KindCloseSchools: {
		class:  ClassIndividual,
		decode: decodeAs(CloseSchools{AttendingCompliance: 1}, func(c *CloseSchools) error { return probabilities(c.AttendingCompliance) }),
	},
	KindCloseCompanies: {
		class:  ClassIndividual,
		decode: decodeAs(CloseCompanies{}, func(c *CloseCompanies) error { return probabilities(c.AvoidWorkProbability) }),
	},
	KindCloseUniversities: {
		class:  ClassIndividual,
		decode: decodeAs(CloseUniversities{}, nil),
	},
	KindSocialDistancing: {
		class:  ClassInteraction,
		decode: decodeAs(SocialDistancing{}, validateSocialDistancing),
	},
	KindMaskWearing: {
		class:  ClassInteraction,
		decode: decodeAs(MaskWearing{Compliance: 1, BetaFactor: 0.5}, validateMaskWearing),
	},
	KindCloseLeisureVenue: {
		class:  ClassLeisure,
		decode: decodeAs(CloseLeisureVenue{}, nil),
	},
	KindChangeLeisureProbability: {
		class:  ClassLeisure,
		decode: decodeAs(ChangeLeisureProbability{}, func(c *ChangeLeisureProbability) error { return nonNegative(c.ActivityReductions) }),
	},
	KindRegionalCompliance: {
		class:  ClassRegional,
		decode: decodeAs(RegionalCompliance{}, func(c *RegionalCompliance) error { return nonNegative(c.CompliancesPerRegion) }),
	},
	KindTieredLockdown: {
		class:  ClassRegional,
		decode: decodeAs(TieredLockdown{}, validateTieredLockdown),
	},
	KindHospitalisation: {
		class:          ClassMedicalCare,
		windowOptional: true,
		decode:         decodeAs(Hospitalisation{}, nil),
	},
	KindVaccineDistribution: {
		class:  ClassVaccination,
		decode: decodeAs(VaccineDistribution{MaxAge: 200, Coverage: 1, RolloutDays: 1, Efficacy: 1, SeverityEfficacy: 1}, validateVaccine),
	},
}

func validateQuarantine(q *Quarantine) error {
	if q.NDays < 0 || q.NDaysHousehold < 0 {
		return fmt.Errorf("n_days and n_days_household must be non-negative")
	}
	return probabilities(q.Compliance, q.HouseholdCompliance)
}

func validateSocialDistancing(s *SocialDistancing) error {
	if len(s.BetaFactors) == 0 {
		return fmt.Errorf("beta_factors must name at least one group spec")
	}
	return nonNegative(s.BetaFactors)
}

func validateMaskWearing(m *MaskWearing) error {
	if err := probabilities(m.Compliance, m.BetaFactor); err != nil {
		return err
	}
	for spec, p := range m.MaskProbabilities {
		if err := probabilities(p); err != nil {
			return fmt.Errorf("mask_probabilities.%s: %w", spec, err)
		}
	}
	return nil
}

func validateTieredLockdown(t *TieredLockdown) error {
	for region, tier := range t.TiersPerRegion {
		if tier < 1 || tier > 4 {
			return fmt.Errorf("tiers_per_region.%s: tier %d outside 1..4", region, tier)
		}
	}
	return nil
}

func validateVaccine(v *VaccineDistribution) error {
	if v.RolloutDays <= 0 {
		return fmt.Errorf("rollout_days must be positive")
	}
	if v.MinAge > v.MaxAge {
		return fmt.Errorf("min_age %d above max_age %d", v.MinAge, v.MaxAge)
	}
	return probabilities(v.Coverage, v.Efficacy, v.SeverityEfficacy)
}

// Kinds returns every supported policy name.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	return out
}

// ClassOf returns the class of a policy kind.
func ClassOf(kind string) (Class, bool) {
	k, ok := kinds[kind]
	return k.class, ok
}

func decodeAs[T any](def T, validate func(*T) error) func(*yaml.Node) (any, error) {
	return func(node *yaml.Node) (any, error) {
		v := def
		if node != nil {
			if err := node.Decode(&v); err != nil {
				return nil, err
			}
		}
		if validate != nil {
			if err := validate(&v); err != nil {
				return nil, err
			}
		}
		return &v, nil
	}
}

func probabilities(ps ...float64) error {
	for _, p := range ps {
		if p < 0 || p > 1 {
			return fmt.Errorf("probability %v outside [0,1]", p)
		}
	}
	return nil
}

func nonNegative(m map[string]float64) error {
	for k, v := range m {
		if v < 0 {
			return fmt.Errorf("%s: factor %v is negative", k, v)
		}
	}
	return nil
}

// decodeParams builds the parameter payload for kind from node.
func decodeParams(kind, key string, node *yaml.Node) (any, error) {
	spec, ok := kinds[kind]
	if !ok {
		return nil, simerr.Config(key, "a known policy kind", fmt.Sprintf("%q", kind))
	}
	params, err := spec.decode(node)
	if err != nil {
		return nil, simerr.Configf(key, err, "valid %s parameters", kind)
	}
	return params, nil
}
