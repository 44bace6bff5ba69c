// Package dist samples completion times and curve parameters from the
// distribution families used by disease configurations.
//
// Parameter names follow the scipy conventions the calibration data was
// produced with: every family except constant accepts an optional loc and
// scale, and the standard variate is mapped to loc + scale*x.
package dist

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/yaml.v3"

	"epicore/internal/simerr"
)

// Supported distribution types.
const (
	TypeConstant    = "constant"
	TypeExponential = "exponential"
	TypeNormal      = "normal"
	TypeBeta        = "beta"
	TypeLognormal   = "lognormal"
	TypeExponWeib   = "exponweib"
)

// maxResamples bounds how often NonNegative redraws a negative sample before
// clipping it to zero.
const maxResamples = 32

// Distribution draws one real value per call.
type Distribution interface {
	Sample(r *rand.Rand) float64
	String() string
}

// Spec is the configuration form of a distribution: a type name plus named
// numeric parameters.
type Spec struct {
	Type   string
	Params map[string]float64
}

// Const is shorthand for a constant Spec.
func Const(v float64) Spec {
	return Spec{Type: TypeConstant, Params: map[string]float64{"value": v}}
}

// UnmarshalYAML decodes `{type: beta, a: 2, b: 3, loc: 0, scale: 1}`.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: distribution must be a mapping", node.Line)
	}
	s.Params = make(map[string]float64)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		if key == "type" {
			s.Type = val.Value
			continue
		}
		var f float64
		if err := val.Decode(&f); err != nil {
			return fmt.Errorf("line %d: parameter %q must be numeric: %w", val.Line, key, err)
		}
		s.Params[key] = f
	}
	return nil
}

func (s Spec) param(name string, def float64, required bool) (float64, bool) {
	v, ok := s.Params[name]
	if !ok {
		return def, !required
	}
	return v, true
}

// New builds the Distribution described by spec. Unknown types and missing
// required parameters fail with a configuration error.
func New(spec Spec) (Distribution, error) {
	key := "distribution." + spec.Type
	missing := func(names ...string) error {
		var have []string
		for k := range spec.Params {
			have = append(have, k)
		}
		sort.Strings(have)
		return simerr.Config(key, "parameters "+strings.Join(names, ", "), "["+strings.Join(have, ", ")+"]")
	}

	loc, _ := spec.param("loc", 0, false)
	scale, _ := spec.param("scale", 1, false)
	if scale <= 0 && spec.Type != TypeConstant {
		return nil, simerr.Config(key, "scale > 0", fmt.Sprintf("%v", scale))
	}

	switch spec.Type {
	case TypeConstant:
		v, ok := spec.param("value", 0, true)
		if !ok {
			return nil, missing("value")
		}
		return Constant{Value: v}, nil
	case TypeExponential:
		// rate is accepted as an alternative to scale
		if rate, ok := spec.Params["rate"]; ok {
			if rate <= 0 {
				return nil, simerr.Config(key, "rate > 0", fmt.Sprintf("%v", rate))
			}
			scale = 1 / rate
		}
		return Exponential{Loc: loc, Scale: scale}, nil
	case TypeNormal:
		mean, ok := spec.Params["mean"]
		if !ok {
			mean = loc
		}
		std, ok := spec.Params["std"]
		if !ok {
			std = scale
		}
		if std <= 0 {
			return nil, simerr.Config(key, "std > 0", fmt.Sprintf("%v", std))
		}
		return Normal{Mean: mean, Std: std}, nil
	case TypeBeta:
		a, okA := spec.param("a", 0, true)
		b, okB := spec.param("b", 0, true)
		if !okA || !okB {
			return nil, missing("a", "b")
		}
		if a <= 0 || b <= 0 {
			return nil, simerr.Config(key, "a > 0 and b > 0", fmt.Sprintf("a=%v b=%v", a, b))
		}
		return Beta{A: a, B: b, Loc: loc, Scale: scale}, nil
	case TypeLognormal:
		s, ok := spec.param("s", 0, true)
		if !ok {
			return nil, missing("s")
		}
		if s <= 0 {
			return nil, simerr.Config(key, "s > 0", fmt.Sprintf("%v", s))
		}
		return Lognormal{S: s, Loc: loc, Scale: scale}, nil
	case TypeExponWeib:
		a, okA := spec.param("a", 0, true)
		c, okC := spec.param("c", 0, true)
		if !okA || !okC {
			return nil, missing("a", "c")
		}
		if a <= 0 || c <= 0 {
			return nil, simerr.Config(key, "a > 0 and c > 0", fmt.Sprintf("a=%v c=%v", a, c))
		}
		return ExponWeib{A: a, C: c, Loc: loc, Scale: scale}, nil
	}
	return nil, simerr.Config("distribution.type",
		"one of constant, exponential, normal, beta, lognormal, exponweib", fmt.Sprintf("%q", spec.Type))
}

// MustNew is New for statically known specs; it panics on error.
func MustNew(spec Spec) Distribution {
	d, err := New(spec)
	if err != nil {
		panic(err)
	}
	return d
}

// NonNegative samples d for use as a duration. Negative draws are redrawn a
// bounded number of times and then clipped to zero.
func NonNegative(d Distribution, r *rand.Rand) float64 {
	for i := 0; i < maxResamples; i++ {
		if v := d.Sample(r); v >= 0 {
			return v
		}
	}
	return 0
}

type Constant struct{ Value float64 }

func (c Constant) Sample(*rand.Rand) float64 { return c.Value }
func (c Constant) String() string           { return fmt.Sprintf("constant(%g)", c.Value) }

type Exponential struct{ Loc, Scale float64 }

func (e Exponential) Sample(r *rand.Rand) float64 {
	return e.Loc + distuv.Exponential{Rate: 1 / e.Scale, Src: r}.Rand()
}

func (e Exponential) String() string {
	return fmt.Sprintf("exponential(loc=%g, scale=%g)", e.Loc, e.Scale)
}

type Normal struct{ Mean, Std float64 }

func (n Normal) Sample(r *rand.Rand) float64 {
	return distuv.Normal{Mu: n.Mean, Sigma: n.Std, Src: r}.Rand()
}

func (n Normal) String() string { return fmt.Sprintf("normal(mean=%g, std=%g)", n.Mean, n.Std) }

// Beta maps the standard beta support [0,1] onto [Loc, Loc+Scale].
type Beta struct{ A, B, Loc, Scale float64 }

func (b Beta) Sample(r *rand.Rand) float64 {
	return b.Loc + b.Scale*distuv.Beta{Alpha: b.A, Beta: b.B, Src: r}.Rand()
}

func (b Beta) String() string {
	return fmt.Sprintf("beta(a=%g, b=%g, loc=%g, scale=%g)", b.A, b.B, b.Loc, b.Scale)
}

// Lognormal is loc + scale*exp(s*Z) for standard normal Z.
type Lognormal struct{ S, Loc, Scale float64 }

func (l Lognormal) Sample(r *rand.Rand) float64 {
	return l.Loc + distuv.LogNormal{Mu: math.Log(l.Scale), Sigma: l.S, Src: r}.Rand()
}

func (l Lognormal) String() string {
	return fmt.Sprintf("lognormal(s=%g, loc=%g, scale=%g)", l.S, l.Loc, l.Scale)
}

// ExponWeib is the exponentiated Weibull with CDF (1 - exp(-x^c))^a on the
// standard support, sampled by inversion.
type ExponWeib struct{ A, C, Loc, Scale float64 }

func (w ExponWeib) Sample(r *rand.Rand) float64 {
	u := r.Float64()
	x := math.Pow(-math.Log1p(-math.Pow(u, 1/w.A)), 1/w.C)
	return w.Loc + w.Scale*x
}

func (w ExponWeib) String() string {
	return fmt.Sprintf("exponweib(a=%g, c=%g, loc=%g, scale=%g)", w.A, w.C, w.Loc, w.Scale)
}
