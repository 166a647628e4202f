package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/jwmeyers/ptmc/rand"
)

// Vals carries per-parameter values keyed by name, unpacked from the flat
// sampled vector (plus the constant parameters).
type Vals map[string]float64

// A BasisSignal contributes columns to the stacked basis matrix and matching
// entries to the (diagonal) prior covariance over the basis coefficients.
// The column count is fixed once the signal is bound to a dataset, while the
// column contents and prior variances may depend on the parameter values.
//
// Prior variance entries follow the engine's edge-case policy: an entry of
// +Inf means an improper flat prior (the coefficient stays in the fit but
// contributes nothing to the inverse prior), while an entry <= 0 drops the
// column from the inversion entirely.
type BasisSignal interface {
	Name() string
	Cols() int
	Basis(v Vals) (*mat.Dense, []float64, error)
}

// A WhiteSignal contributes directly to the diagonal white-noise covariance
// of the residuals. Contributions from multiple white signals add.
type WhiteSignal interface {
	Name() string
	NVec(v Vals) ([]float64, error)
}

// MeasurementNoise is the per-backend EFAC/EQUAD white-noise signal:
// for observation i in backend b,
//
//	N_ii = efac_b^2 * err_i^2 + equad_b^2
//
// with one EFAC and one EQUAD (sampled as log10) per backend group.
type MeasurementNoise struct {
	ds    *Dataset
	efac  map[string]*Parameter
	equad map[string]*Parameter
}

// NewMeasurementNoise builds the EFAC/EQUAD signal for every backend in the
// dataset and registers its parameters with ps. With fixed=true the
// parameters are constants to be filled from a noise dictionary; otherwise
// they are free with the conventional priors (EFAC uniform on [0.01, 10],
// log10 EQUAD uniform on [-8.5, -5]).
func NewMeasurementNoise(ds *Dataset, ps *ParamSet, fixed bool) (*MeasurementNoise, error) {
	if ds == nil {
		return nil, errors.New("No dataset supplied")
	}

	s := &MeasurementNoise{
		ds:    ds,
		efac:  make(map[string]*Parameter),
		equad: make(map[string]*Parameter),
	}

	for _, be := range ds.BackendNames() {
		efName := fmt.Sprintf("%s_%s_efac", ds.Name, be)
		eqName := fmt.Sprintf("%s_%s_log10_equad", ds.Name, be)

		var ef, eq *Parameter
		var err error
		if fixed {
			if ef, err = NewConstant(efName); err != nil {
				return nil, err
			}
			if eq, err = NewConstant(eqName); err != nil {
				return nil, err
			}
		} else {
			if ef, err = NewUniform(efName, 0.01, 10.0); err != nil {
				return nil, err
			}
			if eq, err = NewUniform(eqName, -8.5, -5.0); err != nil {
				return nil, err
			}
		}

		if ef, err = ps.Add(ef); err != nil {
			return nil, errors.Wrapf(err, "Could not register EFAC for backend %s", be)
		}
		if eq, err = ps.Add(eq); err != nil {
			return nil, errors.Wrapf(err, "Could not register EQUAD for backend %s", be)
		}

		s.efac[be] = ef
		s.equad[be] = eq
	}

	return s, nil
}

// Name implements WhiteSignal.
func (s *MeasurementNoise) Name() string {
	return s.ds.Name + "_measurement_noise"
}

// NVec implements WhiteSignal.
func (s *MeasurementNoise) NVec(v Vals) ([]float64, error) {
	nvec := make([]float64, s.ds.Len())

	for _, be := range s.ds.BackendNames() {
		efac, err := lookupVal(v, s.efac[be])
		if err != nil {
			return nil, err
		}
		logEq, err := lookupVal(v, s.equad[be])
		if err != nil {
			return nil, err
		}

		eq2 := math.Pow(10.0, 2.0*logEq)
		for _, i := range s.ds.Group(be) {
			e := s.ds.Errs[i]
			nvec[i] = efac*efac*e*e + eq2
		}
	}

	return nvec, nil
}

// lookupVal resolves a parameter's current value: free parameters come from
// the unpacked vector, constants from their filled value. A free parameter
// missing from the map or an unfilled constant is a configuration error.
func lookupVal(v Vals, p *Parameter) (float64, error) {
	if !p.Free() {
		return p.ConstVal()
	}

	x, ok := v[p.Name]
	if !ok {
		return 0, errors.Errorf("No value supplied for free param %s", p.Name)
	}
	return x, nil
}

// SamplePoint draws one value per free parameter from its prior, in the
// registry order used for the flat vector.
func SamplePoint(ps *ParamSet, gen *rand.Generator) []float64 {
	free := ps.Free()
	x := make([]float64, len(free))
	for i, p := range free {
		x[i] = p.Sample(gen)
	}
	return x
}
