package sampler

import (
	"math"

	"github.com/jwmeyers/ptmc/rand"
)

// SCAM is Single-Component Adaptive Metropolis: each proposal steps along
// one randomly chosen eigendirection of the running chain covariance, with
// a step scale tuned toward the configured target acceptance rate.
type SCAM struct {
	adapt  *AdaptState
	target float64
	scale  float64
}

// NewSCAM creates the kernel over shared adaptive state.
func NewSCAM(adapt *AdaptState, targetAccept float64) *SCAM {
	return &SCAM{
		adapt:  adapt,
		target: targetAccept,
		scale:  1.0,
	}
}

// Name implements Proposal.
func (s *SCAM) Name() string {
	return "SCAM"
}

// Propose implements Proposal. The proposal is symmetric, so no density
// correction enters the acceptance ratio.
func (s *SCAM) Propose(x []float64, gen *rand.Generator) ([]float64, bool) {
	dim := s.adapt.Dim()
	j := gen.Intn(dim)

	// cd=2.4 is the classic single-component adaptive scaling
	step := 2.4 * s.scale * math.Sqrt(s.adapt.EigVal(j)) * gen.NormFloat64()

	dir := make([]float64, dim)
	s.adapt.EigVec(j, dir)

	y := make([]float64, dim)
	for i := range y {
		y[i] = x[i] + step*dir[i]
	}
	return y, true
}

// AdaptScale implements Proposal: nudge the step scale toward the target
// acceptance rate using the windowed rate since the last adaptation.
func (s *SCAM) AdaptScale(accRate float64) {
	s.scale *= math.Exp(accRate - s.target)
	if s.scale < 1e-3 {
		s.scale = 1e-3
	}
	if s.scale > 1e3 {
		s.scale = 1e3
	}
}
