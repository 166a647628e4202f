package sampler

import (
	"math"

	"github.com/jwmeyers/ptmc/buffer"
	"github.com/jwmeyers/ptmc/rand"
)

// DE is the Differential-Evolution kernel: the proposed move is a scaled
// difference of two distinct states drawn from the chain's history buffer.
// With a long enough history the difference vectors align with the posterior
// geometry without any covariance estimation.
type DE struct {
	hist  *buffer.CircularVec
	dim   int
	scale float64
}

// NewDE creates the kernel over the chain's shared history ring.
func NewDE(hist *buffer.CircularVec, dim int) *DE {
	return &DE{
		hist:  hist,
		dim:   dim,
		scale: 1.0,
	}
}

// Name implements Proposal.
func (d *DE) Name() string {
	return "DE"
}

// Propose implements Proposal. Returns ok=false until the history holds
// enough states to form a difference; callers fall back to another kernel.
func (d *DE) Propose(x []float64, gen *rand.Generator) ([]float64, bool) {
	if d.hist.Count < 3 {
		return nil, false
	}

	a := gen.Intn(d.hist.Count)
	b := gen.Intn(d.hist.Count)
	for b == a {
		b = gen.Intn(d.hist.Count)
	}

	// gamma = 2.38/sqrt(2d) is the standard DE scaling; one jump in ten
	// uses the full difference to hop between posterior modes.
	gamma := 2.38 / math.Sqrt(2.0*float64(d.dim)) * d.scale
	if gen.Float64() < 0.1 {
		gamma = 1.0
	}

	ha := d.hist.At(a)
	hb := d.hist.At(b)

	y := make([]float64, d.dim)
	for i := range y {
		y[i] = x[i] + gamma*(ha[i]-hb[i])
	}
	return y, true
}

// AdaptScale implements Proposal. The mode-jump fraction stays fixed; only
// the differential scaling adapts.
func (d *DE) AdaptScale(accRate float64) {
	d.scale *= math.Exp(accRate - 0.25)
	if d.scale < 1e-3 {
		d.scale = 1e-3
	}
	if d.scale > 1e3 {
		d.scale = 1e3
	}
}
