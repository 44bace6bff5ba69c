package infection

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"epicore/internal/disease"
)

// Transmission is one person's infectiousness curve over days since
// infection. Parameters are sampled once at infection time.
type Transmission struct {
	kind   string
	gamma  distuv.Gamma
	shift  float64
	norm   float64
	prob   float64
	factor float64
}

// NewTransmission samples a curve from cfg. maxTag selects the asymptomatic
// or mild scaling factor; onset (days, -1 if never symptomatic) moves the
// curve when the disease links it to symptom onset.
func NewTransmission(cfg *disease.Config, maxTag disease.Tag, onset float64, r *rand.Rand) *Transmission {
	tc := cfg.Transmission
	t := &Transmission{kind: tc.Type, factor: 1}
	switch {
	case maxTag < cfg.SymptomaticThreshold:
		t.factor = tc.AsymptomaticFactor.Sample(r)
	case maxTag < cfg.MaxMildTag:
		t.factor = tc.MildFactor.Sample(r)
	}

	if tc.Type == disease.TransmissionConstant {
		t.prob = tc.Probability.Sample(r)
		return t
	}

	maxInf := tc.MaxInfectiousness.Sample(r)
	shape := tc.Shape.Sample(r)
	rate := tc.Rate.Sample(r)
	if shape <= 0 {
		shape = 1
	}
	if rate <= 0 {
		rate = 1
	}
	t.shift = tc.Shift.Sample(r)
	if tc.LinkedToSymptomsOnset && onset >= 0 {
		t.shift += onset
	}
	t.gamma = distuv.Gamma{Alpha: shape, Beta: rate}

	// Peak at maxInf when the curve has an interior mode.
	t.norm = maxInf
	if shape > 1 {
		if peak := t.gamma.Prob((shape - 1) / rate); peak > 0 {
			t.norm = maxInf / peak
		}
	}
	return t
}

// Infectiousness is the curve value days after infection. It is never
// negative.
func (t *Transmission) Infectiousness(days float64) float64 {
	if t.kind == disease.TransmissionConstant {
		return t.prob * t.factor
	}
	x := days - t.shift
	if x <= 0 {
		return 0
	}
	v := t.norm * t.gamma.Prob(x) * t.factor
	if v < 0 {
		return 0
	}
	return v
}

// Factor is the asymptomatic or mild scaling applied to the curve.
func (t *Transmission) Factor() float64 { return t.factor }
