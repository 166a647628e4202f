package sampler

import (
	"math"

	"github.com/jwmeyers/ptmc/rand"
)

// AM is full Adaptive Metropolis: a Gaussian proposal with covariance equal
// to the scaled running empirical covariance of the chain, built from its
// eigendecomposition.
type AM struct {
	adapt  *AdaptState
	target float64
	scale  float64
}

// NewAM creates the kernel over shared adaptive state.
func NewAM(adapt *AdaptState, targetAccept float64) *AM {
	return &AM{
		adapt:  adapt,
		target: targetAccept,
		scale:  1.0,
	}
}

// Name implements Proposal.
func (a *AM) Name() string {
	return "AM"
}

// Propose implements Proposal. Drawing z_j along every eigendirection with
// stddev sqrt(lambda_j) samples exactly from N(x, cd^2 * Cov); the proposal
// is symmetric.
func (a *AM) Propose(x []float64, gen *rand.Generator) ([]float64, bool) {
	dim := a.adapt.Dim()

	// cd = 2.38/sqrt(d) is the standard optimal-scaling prefactor
	cd := 2.38 / math.Sqrt(float64(dim)) * a.scale

	y := make([]float64, dim)
	copy(y, x)

	dir := make([]float64, dim)
	for j := 0; j < dim; j++ {
		step := cd * math.Sqrt(a.adapt.EigVal(j)) * gen.NormFloat64()
		a.adapt.EigVec(j, dir)
		for i := range y {
			y[i] += step * dir[i]
		}
	}
	return y, true
}

// AdaptScale implements Proposal.
func (a *AM) AdaptScale(accRate float64) {
	a.scale *= math.Exp(accRate - a.target)
	if a.scale < 1e-3 {
		a.scale = 1e-3
	}
	if a.scale > 1e3 {
		a.scale = 1e3
	}
}
