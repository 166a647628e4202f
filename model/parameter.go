package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/jwmeyers/ptmc/rand"
)

// Prior kind constant strings
const (
	Uniform    = "uniform"
	LogUniform = "loguniform"
	Normal     = "normal"
	Constant   = "constant"
)

// Parameter is a named scalar hyperparameter with a prior. A Parameter is
// immutable after construction except for the value of a Constant, which is
// filled in exactly once from a noise dictionary. Signals that reference the
// same name must share one instance (see ParamSet).
type Parameter struct {
	Name string
	Kind string  // Prior kind - should match a constant
	Lo   float64 // Support lower bound (log10 space for LogUniform)
	Hi   float64 // Support upper bound (log10 space for LogUniform)
	Mu   float64 // Normal location
	Sig  float64 // Normal scale

	constVal float64
	constSet bool
}

// NewUniform creates a parameter with a uniform prior on [lo, hi]. Both
// bounds are inside the support.
func NewUniform(name string, lo float64, hi float64) (*Parameter, error) {
	if hi <= lo {
		return nil, errors.Errorf("Uniform param %s has bad bounds [%g, %g]", name, lo, hi)
	}
	return &Parameter{Name: name, Kind: Uniform, Lo: lo, Hi: hi}, nil
}

// NewLogUniform creates a parameter whose prior density is proportional to
// 1/x on [10^lo, 10^hi]. The bounds are given in log10 of the value.
func NewLogUniform(name string, lo float64, hi float64) (*Parameter, error) {
	if hi <= lo {
		return nil, errors.Errorf("LogUniform param %s has bad bounds [%g, %g]", name, lo, hi)
	}
	return &Parameter{Name: name, Kind: LogUniform, Lo: lo, Hi: hi}, nil
}

// NewNormal creates a parameter with an unbounded Gaussian prior.
func NewNormal(name string, mu float64, sig float64) (*Parameter, error) {
	if sig <= 0 {
		return nil, errors.Errorf("Normal param %s has sigma %g", name, sig)
	}
	return &Parameter{Name: name, Kind: Normal, Mu: mu, Sig: sig}, nil
}

// NewConstant creates a parameter with a fixed, externally supplied value.
// The value is usually filled from a noise dictionary; reading it before it
// has been set is a configuration error.
func NewConstant(name string) (*Parameter, error) {
	return &Parameter{Name: name, Kind: Constant}, nil
}

// Free is true for every prior kind that contributes to the sampled vector.
func (p *Parameter) Free() bool {
	return p.Kind != Constant
}

// SetConst assigns the value of a Constant parameter. Setting the same value
// twice is allowed (default-fill is idempotent).
func (p *Parameter) SetConst(v float64) error {
	if p.Kind != Constant {
		return errors.Errorf("Param %s has kind %s - cannot set a constant value", p.Name, p.Kind)
	}
	p.constVal = v
	p.constSet = true
	return nil
}

// ConstVal returns the externally supplied value of a Constant parameter.
func (p *Parameter) ConstVal() (float64, error) {
	if p.Kind != Constant {
		return 0, errors.Errorf("Param %s has kind %s - no constant value", p.Name, p.Kind)
	}
	if !p.constSet {
		return 0, errors.Errorf("Constant param %s was never given a value", p.Name)
	}
	return p.constVal, nil
}

// Sample draws one value from the prior using the supplied generator.
// Constants return their fixed value.
func (p *Parameter) Sample(gen *rand.Generator) float64 {
	switch p.Kind {
	case Uniform:
		return p.Lo + (p.Hi-p.Lo)*gen.Float64()
	case LogUniform:
		return math.Pow(10.0, p.Lo+(p.Hi-p.Lo)*gen.Float64())
	case Normal:
		return p.Mu + p.Sig*gen.NormFloat64()
	case Constant:
		return p.constVal
	}
	panic("unknown prior kind " + p.Kind)
}

// LogPrior returns the log prior density at v, and -Inf outside the support.
// Callers treat -Inf as an automatic reject, never as an error. Values
// exactly at a bound are inside the support.
func (p *Parameter) LogPrior(v float64) float64 {
	switch p.Kind {
	case Uniform:
		u := distuv.Uniform{Min: p.Lo, Max: p.Hi}
		return u.LogProb(v)
	case LogUniform:
		lo, hi := math.Pow(10.0, p.Lo), math.Pow(10.0, p.Hi)
		if v < lo || v > hi {
			return math.Inf(-1)
		}
		return -math.Log(v) - math.Log(math.Ln10*(p.Hi-p.Lo))
	case Normal:
		n := distuv.Normal{Mu: p.Mu, Sigma: p.Sig}
		return n.LogProb(v)
	case Constant:
		return 0.0
	}
	panic("unknown prior kind " + p.Kind)
}

// ParamSet is a name-keyed registry of Parameters with a stable ordering.
// Signals register their parameters through Add, which hands back the one
// shared instance per name, so an EFAC defined by two signals for the same
// backend is a single sampled scalar.
type ParamSet struct {
	byName map[string]*Parameter
	order  []string
}

// NewParamSet returns an empty registry.
func NewParamSet() *ParamSet {
	return &ParamSet{
		byName: make(map[string]*Parameter),
	}
}

// Add registers p and returns the canonical instance for its name. If the
// name is already registered the existing instance is returned, but only when
// both declarations agree; a redefinition with a different prior is a
// configuration error.
func (ps *ParamSet) Add(p *Parameter) (*Parameter, error) {
	if p == nil || len(p.Name) < 1 {
		return nil, errors.New("Cannot register a nil or unnamed parameter")
	}

	prev, ok := ps.byName[p.Name]
	if !ok {
		ps.byName[p.Name] = p
		ps.order = append(ps.order, p.Name)
		return p, nil
	}

	if prev.Kind != p.Kind || prev.Lo != p.Lo || prev.Hi != p.Hi || prev.Mu != p.Mu || prev.Sig != p.Sig {
		return nil, errors.Errorf("Param %s redefined with a different prior (%s vs %s)", p.Name, prev.Kind, p.Kind)
	}

	return prev, nil
}

// Get looks up a parameter by name.
func (ps *ParamSet) Get(name string) (*Parameter, bool) {
	p, ok := ps.byName[name]
	return p, ok
}

// Free returns the free parameters in registration order. This ordering is
// the layout of the flat sampled vector and is fixed for a run.
func (ps *ParamSet) Free() []*Parameter {
	free := make([]*Parameter, 0, len(ps.order))
	for _, name := range ps.order {
		p := ps.byName[name]
		if p.Free() {
			free = append(free, p)
		}
	}
	return free
}

// Constants returns the constant parameters in registration order.
func (ps *ParamSet) Constants() []*Parameter {
	cs := make([]*Parameter, 0, len(ps.order))
	for _, name := range ps.order {
		p := ps.byName[name]
		if !p.Free() {
			cs = append(cs, p)
		}
	}
	return cs
}
