package sampler

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// minEigval is the floor applied to eigenvalues of the empirical covariance
// so degenerate directions still get a usable proposal step.
const minEigval = 1e-22

// AdaptState is the running empirical covariance of a chain and its
// eigendecomposition, which the adaptive proposal kernels draw their step
// directions from. It is owned by exactly one Chain and mutated only between
// iterations, never concurrently with a likelihood evaluation.
type AdaptState struct {
	dim    int
	count  int64
	mean   []float64
	m2     *mat.SymDense
	eigVal []float64
	eigVec *mat.Dense
	frozen bool
}

// NewAdaptState creates the state with an initial diagonal covariance built
// from per-dimension scales (typically prior widths). The initial
// eigenvectors are the coordinate axes.
func NewAdaptState(dim int, scales []float64) (*AdaptState, error) {
	if dim < 1 {
		return nil, errors.Errorf("Invalid dimension %d", dim)
	}
	if len(scales) != dim {
		return nil, errors.Errorf("Got %d scales for dimension %d", len(scales), dim)
	}

	a := &AdaptState{
		dim:    dim,
		mean:   make([]float64, dim),
		m2:     mat.NewSymDense(dim, nil),
		eigVal: make([]float64, dim),
		eigVec: mat.NewDense(dim, dim, nil),
	}

	for i, s := range scales {
		v := s * s
		if v < minEigval {
			v = minEigval
		}
		a.eigVal[i] = v
		a.eigVec.Set(i, i, 1.0)
	}

	return a, nil
}

// Dim is the parameter-space dimension.
func (a *AdaptState) Dim() int {
	return a.dim
}

// AddSample folds one chain state into the running mean and covariance.
// Rejected iterations count too: the repeated state is part of the chain.
func (a *AdaptState) AddSample(x []float64) {
	a.count++
	k := float64(a.count)

	d := make([]float64, a.dim)
	for i := range d {
		d[i] = x[i] - a.mean[i]
		a.mean[i] += d[i] / k
	}

	// m2 += outer(d, d) * (k-1)/k keeps the deviation sum exactly symmetric
	w := (k - 1.0) / k
	for i := 0; i < a.dim; i++ {
		for j := i; j < a.dim; j++ {
			a.m2.SetSym(i, j, a.m2.At(i, j)+w*d[i]*d[j])
		}
	}
}

// Cov returns the current empirical covariance estimate. Before two samples
// have been seen there is nothing to estimate and nil is returned.
func (a *AdaptState) Cov() *mat.SymDense {
	if a.count < 2 {
		return nil
	}

	cov := mat.NewSymDense(a.dim, nil)
	s := 1.0 / float64(a.count-1)
	for i := 0; i < a.dim; i++ {
		for j := i; j < a.dim; j++ {
			cov.SetSym(i, j, s*a.m2.At(i, j))
		}
	}
	return cov
}

// Refresh recomputes the eigendecomposition from the accumulated history.
// It is a no-op before enough samples exist or after Freeze.
func (a *AdaptState) Refresh() error {
	if a.frozen {
		return nil
	}

	cov := a.Cov()
	if cov == nil {
		return nil
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		// Keep the previous decomposition rather than failing the run.
		return errors.New("Eigendecomposition of empirical covariance failed")
	}

	eig.Values(a.eigVal)
	for i, v := range a.eigVal {
		if v < minEigval || math.IsNaN(v) {
			a.eigVal[i] = minEigval
		}
	}
	eig.VectorsTo(a.eigVec)

	return nil
}

// Freeze stops all further adaptation: AddSample still accumulates but
// Refresh no longer changes the decomposition.
func (a *AdaptState) Freeze() {
	a.frozen = true
}

// Frozen reports whether adaptation has been stopped.
func (a *AdaptState) Frozen() bool {
	return a.frozen
}

// EigVal returns the i-th eigenvalue of the proposal covariance.
func (a *AdaptState) EigVal(i int) float64 {
	return a.eigVal[i]
}

// EigVec copies the i-th eigenvector into dst.
func (a *AdaptState) EigVec(i int, dst []float64) {
	for r := 0; r < a.dim; r++ {
		dst[r] = a.eigVec.At(r, i)
	}
}
