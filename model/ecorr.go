package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DefaultEpochWindow is the TOA gap (seconds) that separates observing
// epochs for ECORR grouping. Observations of one backend within this window
// share a fully correlated noise term.
const DefaultEpochWindow = 10.0

// EcorrSignal models epoch-correlated white noise (ECORR): every observing
// epoch gets one basis column that is an indicator over the epoch's
// observations, with prior variance ecorr_b^2 for the owning backend. This
// expresses the block-diagonal covariance U diag(ecorr^2) U^T in basis form
// so the white-noise matrix stays diagonal.
type EcorrSignal struct {
	ds           *Dataset
	epochs       [][]int
	epochBackend []string
	ecorr        map[string]*Parameter
	b            *mat.Dense
}

// NewEcorrSignal builds the ECORR signal with epochs grouped by the given
// TOA window and registers one log10 ECORR parameter per backend that owns
// at least one multi-observation epoch. With fixed=true the parameters are
// constants filled from a noise dictionary; otherwise log10 ECORR is uniform
// on [-8.5, -5].
func NewEcorrSignal(ds *Dataset, ps *ParamSet, window float64, fixed bool) (*EcorrSignal, error) {
	if ds == nil {
		return nil, errors.New("No dataset supplied")
	}
	if window <= 0 {
		window = DefaultEpochWindow
	}

	epochs, epochBackend := ds.Epochs(window)
	if len(epochs) < 1 {
		return nil, errors.Errorf("Dataset %s has no multi-observation epochs within %gs", ds.Name, window)
	}

	s := &EcorrSignal{
		ds:           ds,
		epochs:       epochs,
		epochBackend: epochBackend,
		ecorr:        make(map[string]*Parameter),
	}

	for _, be := range epochBackend {
		if _, ok := s.ecorr[be]; ok {
			continue
		}

		name := fmt.Sprintf("%s_%s_log10_ecorr", ds.Name, be)
		var p *Parameter
		var err error
		if fixed {
			p, err = NewConstant(name)
		} else {
			p, err = NewUniform(name, -8.5, -5.0)
		}
		if err != nil {
			return nil, err
		}
		if p, err = ps.Add(p); err != nil {
			return nil, errors.Wrapf(err, "Could not register ECORR for backend %s", be)
		}
		s.ecorr[be] = p
	}

	// The quantization matrix is fixed once the epochs are known.
	s.b = mat.NewDense(ds.Len(), len(epochs), nil)
	for j, ep := range epochs {
		for _, i := range ep {
			s.b.Set(i, j, 1.0)
		}
	}

	return s, nil
}

// Name implements BasisSignal.
func (s *EcorrSignal) Name() string {
	return s.ds.Name + "_ecorr"
}

// Cols implements BasisSignal.
func (s *EcorrSignal) Cols() int {
	return len(s.epochs)
}

// Basis implements BasisSignal.
func (s *EcorrSignal) Basis(v Vals) (*mat.Dense, []float64, error) {
	phi := make([]float64, len(s.epochs))
	for j, be := range s.epochBackend {
		logEc, err := lookupVal(v, s.ecorr[be])
		if err != nil {
			return nil, nil, err
		}
		phi[j] = math.Pow(10.0, 2.0*logEc)
	}
	return s.b, phi, nil
}
