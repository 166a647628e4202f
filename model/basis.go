package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Seconds per (Julian) year - the reference frequency for red-noise spectra
// is 1/year.
const secPerYear = 3.15576e7

// TimingModel wraps the dataset's fixed design matrix as a basis signal with
// an improper flat prior on every coefficient. The coefficients are the
// linearized timing-model corrections; marginalizing them with infinite
// variance reproduces the usual timing-model projection.
type TimingModel struct {
	ds  *Dataset
	b   *mat.Dense
	phi []float64
}

// NewTimingModel builds the timing-model signal from the dataset design
// matrix. The design matrix columns are scaled to unit norm for numerical
// stability; with a flat coefficient prior the likelihood is unchanged.
func NewTimingModel(ds *Dataset) (*TimingModel, error) {
	if ds == nil {
		return nil, errors.New("No dataset supplied")
	}
	if len(ds.Design) < 1 {
		return nil, errors.Errorf("Dataset %s has no design matrix", ds.Name)
	}

	n := ds.Len()
	m := len(ds.Design[0])
	b := mat.NewDense(n, m, nil)
	for i, row := range ds.Design {
		for j, x := range row {
			b.Set(i, j, x)
		}
	}

	// Unit-norm columns
	for j := 0; j < m; j++ {
		var ss float64
		for i := 0; i < n; i++ {
			ss += b.At(i, j) * b.At(i, j)
		}
		norm := math.Sqrt(ss)
		if norm <= 0 {
			return nil, errors.Errorf("Dataset %s design matrix column %d is all zero", ds.Name, j)
		}
		for i := 0; i < n; i++ {
			b.Set(i, j, b.At(i, j)/norm)
		}
	}

	phi := make([]float64, m)
	for j := range phi {
		phi[j] = math.Inf(1)
	}

	return &TimingModel{ds: ds, b: b, phi: phi}, nil
}

// Name implements BasisSignal.
func (s *TimingModel) Name() string {
	return s.ds.Name + "_timing_model"
}

// Cols implements BasisSignal.
func (s *TimingModel) Cols() int {
	_, m := s.b.Dims()
	return m
}

// Basis implements BasisSignal. Neither the matrix nor the prior depends on
// any parameter.
func (s *TimingModel) Basis(v Vals) (*mat.Dense, []float64, error) {
	return s.b, s.phi, nil
}

// FourierBasis is the standard red/spin-noise model: a rank-reduced Fourier
// expansion at frequencies j/T for j=1..nfreq with a power-law prior
// spectrum over the sin/cos coefficient pairs,
//
//	phi(f) = A^2/(12 pi^2) * fyr^(gamma-3) * f^(-gamma) / T
//
// parameterized by log10 amplitude and spectral index gamma.
type FourierBasis struct {
	ds    *Dataset
	logA  *Parameter
	gamma *Parameter
	b     *mat.Dense
	freqs []float64
}

// NewFourierBasis builds a red-noise Fourier basis with nfreq harmonics and
// registers the two hyperparameters with ps (log10_A uniform on [-20, -11],
// gamma uniform on [0, 7]).
func NewFourierBasis(ds *Dataset, ps *ParamSet, nfreq int) (*FourierBasis, error) {
	if ds == nil {
		return nil, errors.New("No dataset supplied")
	}
	if nfreq < 1 {
		return nil, errors.Errorf("Invalid harmonic count %d", nfreq)
	}

	logA, err := NewUniform(fmt.Sprintf("%s_red_noise_log10_A", ds.Name), -20.0, -11.0)
	if err != nil {
		return nil, err
	}
	gamma, err := NewUniform(fmt.Sprintf("%s_red_noise_gamma", ds.Name), 0.0, 7.0)
	if err != nil {
		return nil, err
	}

	if logA, err = ps.Add(logA); err != nil {
		return nil, err
	}
	if gamma, err = ps.Add(gamma); err != nil {
		return nil, err
	}

	n := ds.Len()
	span := ds.Span()
	if span <= 0 {
		return nil, errors.Errorf("Dataset %s has zero observing span", ds.Name)
	}

	freqs := make([]float64, nfreq)
	b := mat.NewDense(n, 2*nfreq, nil)
	for j := 0; j < nfreq; j++ {
		f := float64(j+1) / span
		freqs[j] = f
		for i := 0; i < n; i++ {
			w := 2.0 * math.Pi * f * ds.TOAs[i]
			b.Set(i, 2*j, math.Sin(w))
			b.Set(i, 2*j+1, math.Cos(w))
		}
	}

	return &FourierBasis{ds: ds, logA: logA, gamma: gamma, b: b, freqs: freqs}, nil
}

// Name implements BasisSignal.
func (s *FourierBasis) Name() string {
	return s.ds.Name + "_red_noise"
}

// Cols implements BasisSignal.
func (s *FourierBasis) Cols() int {
	return 2 * len(s.freqs)
}

// Basis implements BasisSignal. The matrix is fixed; the prior spectrum
// depends on the current hyperparameter values.
func (s *FourierBasis) Basis(v Vals) (*mat.Dense, []float64, error) {
	logA, err := lookupVal(v, s.logA)
	if err != nil {
		return nil, nil, err
	}
	gamma, err := lookupVal(v, s.gamma)
	if err != nil {
		return nil, nil, err
	}

	a2 := math.Pow(10.0, 2.0*logA)
	fyr := 1.0 / secPerYear
	span := s.ds.Span()

	phi := make([]float64, 2*len(s.freqs))
	for j, f := range s.freqs {
		p := a2 / (12.0 * math.Pi * math.Pi) * math.Pow(fyr, gamma-3.0) * math.Pow(f, -gamma) / span
		phi[2*j] = p
		phi[2*j+1] = p
	}

	return s.b, phi, nil
}
