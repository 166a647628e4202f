package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Default precession prior bounds (seconds). The period covers roughly 5 to
// 50 years and the reference epoch spans the usual observing baselines.
const (
	PrecessionPLo  = 4.32e8
	PrecessionPHi  = 4.32e9
	PrecessionT0Lo = 4.6e9
	PrecessionT0Hi = 6.3e9
)

// PrecessionSignal is the free-precession red-noise model: a delay
//
//	d(t) = k + a1 sin(w (t - t0)) - a2 sin(2 w (t - t0)),  w = 2 pi / P
//
// where the period P and epoch t0 are sampled nonlinear hyperparameters and
// the amplitudes (k, a1, a2) are linear coefficients marginalized under a
// zero-mean Gaussian prior. The basis therefore has three parameter-dependent
// columns: a constant offset and the two harmonics.
type PrecessionSignal struct {
	ds     *Dataset
	period *Parameter
	epoch  *Parameter
	ampVar []float64
}

// NewPrecessionSignal builds the precession basis and registers P and t0
// with ps using the default uniform priors. ampSigma is the prior standard
// deviation (seconds) on the k/a1/a2 amplitudes; the original model searched
// amplitudes up to 1e-3 s, so that is the default for ampSigma <= 0.
func NewPrecessionSignal(ds *Dataset, ps *ParamSet, ampSigma float64) (*PrecessionSignal, error) {
	if ds == nil {
		return nil, errors.New("No dataset supplied")
	}
	if ampSigma <= 0 {
		ampSigma = 1e-3
	}

	period, err := NewUniform(fmt.Sprintf("%s_precession_P", ds.Name), PrecessionPLo, PrecessionPHi)
	if err != nil {
		return nil, err
	}
	epoch, err := NewUniform(fmt.Sprintf("%s_precession_t0", ds.Name), PrecessionT0Lo, PrecessionT0Hi)
	if err != nil {
		return nil, err
	}

	if period, err = ps.Add(period); err != nil {
		return nil, err
	}
	if epoch, err = ps.Add(epoch); err != nil {
		return nil, err
	}

	av := ampSigma * ampSigma
	return &PrecessionSignal{
		ds:     ds,
		period: period,
		epoch:  epoch,
		ampVar: []float64{av, av, av},
	}, nil
}

// Name implements BasisSignal.
func (s *PrecessionSignal) Name() string {
	return s.ds.Name + "_precession"
}

// Cols implements BasisSignal.
func (s *PrecessionSignal) Cols() int {
	return 3
}

// Basis implements BasisSignal. Both basis columns and period are rebuilt
// from the current P and t0 on every call.
func (s *PrecessionSignal) Basis(v Vals) (*mat.Dense, []float64, error) {
	p, err := lookupVal(v, s.period)
	if err != nil {
		return nil, nil, err
	}
	t0, err := lookupVal(v, s.epoch)
	if err != nil {
		return nil, nil, err
	}
	if p <= 0 {
		return nil, nil, errors.Errorf("Non-positive precession period %g", p)
	}

	w := 2.0 * math.Pi / p
	n := s.ds.Len()
	b := mat.NewDense(n, 3, nil)
	for i, t := range s.ds.TOAs {
		b.Set(i, 0, 1.0)
		b.Set(i, 1, math.Sin(w*(t-t0)))
		b.Set(i, 2, -math.Sin(2.0*w*(t-t0)))
	}

	phi := make([]float64, 3)
	copy(phi, s.ampVar)
	return b, phi, nil
}
