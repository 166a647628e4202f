package model

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jwmeyers/ptmc/rand"
)

// PTA aggregates one or more PulsarModels behind a single hyperparameter
// vector. With no cross-pulsar signals (the only case supported here) the
// joint log-likelihood is the sum of per-pulsar terms, which the engine
// reduces in parallel. The flat-vector layout comes from the shared ParamSet
// and is fixed for the lifetime of a sampling run.
type PTA struct {
	Pulsars []*PulsarModel
	Params  *ParamSet

	free []*Parameter
}

// NewPTA builds the engine over the given pulsar models and their shared
// parameter registry.
func NewPTA(pulsars []*PulsarModel, ps *ParamSet) (*PTA, error) {
	if len(pulsars) < 1 {
		return nil, errors.New("At least one pulsar model is required")
	}
	if ps == nil {
		return nil, errors.New("No parameter registry supplied")
	}

	free := ps.Free()
	if len(free) < 1 {
		return nil, errors.New("Model has no free parameters to sample")
	}

	return &PTA{
		Pulsars: pulsars,
		Params:  ps,
		free:    free,
	}, nil
}

// Dim is the free-parameter count (the flat vector length).
func (p *PTA) Dim() int {
	return len(p.free)
}

// Names returns the free parameter names in flat-vector order.
func (p *PTA) Names() []string {
	names := make([]string, len(p.free))
	for i, pr := range p.free {
		names[i] = pr.Name
	}
	return names
}

// FreeParams returns the free parameters in flat-vector order.
func (p *PTA) FreeParams() []*Parameter {
	return p.free
}

// SampleVector draws one flat vector from the joint prior.
func (p *PTA) SampleVector(gen *rand.Generator) []float64 {
	x := make([]float64, len(p.free))
	for i, pr := range p.free {
		x[i] = pr.Sample(gen)
	}
	return x
}

// Unpack maps a flat vector to per-parameter values by name, including the
// filled constants. An unset constant is a configuration error.
func (p *PTA) Unpack(x []float64) (Vals, error) {
	if len(x) != len(p.free) {
		return nil, errors.Errorf("Vector has %d entries for %d free params", len(x), len(p.free))
	}

	v := make(Vals, len(p.free))
	for i, pr := range p.free {
		v[pr.Name] = x[i]
	}

	for _, pr := range p.Params.Constants() {
		cv, err := pr.ConstVal()
		if err != nil {
			return nil, err
		}
		v[pr.Name] = cv
	}

	return v, nil
}

// LogPrior sums the log prior density over every free parameter. The result
// is -Inf when any component is outside its support; callers treat that as
// an automatic reject.
func (p *PTA) LogPrior(x []float64) float64 {
	if len(x) != len(p.free) {
		return math.Inf(-1)
	}

	var lp float64
	for i, pr := range p.free {
		lp += pr.LogPrior(x[i])
	}
	return lp
}

// LogLikelihood evaluates the joint marginal log-likelihood, reducing over
// pulsars in parallel when there is more than one. No shared state is
// written during the reduction. An error return means misconfiguration, not
// a numerically degenerate point.
func (p *PTA) LogLikelihood(x []float64) (float64, error) {
	v, err := p.Unpack(x)
	if err != nil {
		return 0, err
	}

	if len(p.Pulsars) == 1 {
		return p.Pulsars[0].LogLikelihood(v)
	}

	parts := make([]float64, len(p.Pulsars))
	var g errgroup.Group
	for i, pm := range p.Pulsars {
		i, pm := i, pm
		g.Go(func() error {
			ll, err := pm.LogLikelihood(v)
			if err != nil {
				return errors.Wrapf(err, "Likelihood failed for pulsar %s", pm.DS.Name)
			}
			parts[i] = ll
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total float64
	for _, ll := range parts {
		total += ll
	}
	return total, nil
}

// SetDefaults fills every constant parameter from the noise dictionary by
// name. A constant whose key is absent from the dictionary is a fatal
// startup error. Calling SetDefaults twice with the same dictionary leaves
// the values unchanged.
func (p *PTA) SetDefaults(nd NoiseDict) error {
	for _, pr := range p.Params.Constants() {
		v, err := nd.Lookup(pr.Name)
		if err != nil {
			return errors.Wrap(err, "Could not fill constant parameters")
		}
		if err := pr.SetConst(v); err != nil {
			return err
		}
	}
	return nil
}
