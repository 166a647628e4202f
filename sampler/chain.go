package sampler

import (
	"math"

	"github.com/pkg/errors"

	"github.com/jwmeyers/ptmc/buffer"
	"github.com/jwmeyers/ptmc/rand"
)

// priorProbeDraws is how many prior draws seed the initial proposal scales.
const priorProbeDraws = 32

// Chain is the complete state of one Markov chain at one temperature: the
// current point, its log-likelihood and log-prior, the adaptive proposal
// state, and the history ring. All of it is owned by the chain and mutated
// only inside Step, so independent temperatures can step concurrently.
type Chain struct {
	Temp       float64
	X          []float64
	LogL       float64
	LogP       float64
	Iter       int64
	Proposed   int64
	Accepted   int64
	LastAccept bool

	target  Target
	cfg     *Config
	gen     *rand.Generator
	beta    float64
	adapt   *AdaptState
	hist    *buffer.CircularVec
	scam    *SCAM
	props   []Proposal
	weights []float64
	wTotal  float64

	winProp int64
	winAcc  int64
}

// NewChain builds a chain at the given temperature, starting from a prior
// draw. The very first posterior evaluation happening here is the one place
// a non-finite result is fatal: it means the model, not the chain, is
// broken.
func NewChain(t Target, cfg *Config, temp float64, gen *rand.Generator) (*Chain, error) {
	if t == nil {
		return nil, errors.New("No target supplied")
	}
	if temp < 1.0 {
		return nil, errors.Errorf("Invalid chain temperature %g", temp)
	}

	dim := t.Dim()
	scales, err := probeScales(t, gen, dim)
	if err != nil {
		return nil, err
	}

	adapt, err := NewAdaptState(dim, scales)
	if err != nil {
		return nil, err
	}

	hist := buffer.NewCircularVec(cfg.HistorySize, dim)
	scam := NewSCAM(adapt, cfg.TargetAccept)

	c := &Chain{
		Temp:    temp,
		target:  t,
		cfg:     cfg,
		gen:     gen,
		beta:    1.0 / temp,
		adapt:   adapt,
		hist:    hist,
		scam:    scam,
		props:   []Proposal{scam, NewAM(adapt, cfg.TargetAccept), NewDE(hist, dim)},
		weights: []float64{cfg.SCAMWeight, cfg.AMWeight, cfg.DEWeight},
	}
	for _, w := range c.weights {
		if w < 0 {
			return nil, errors.Errorf("Negative proposal weight %g", w)
		}
		c.wTotal += w
	}
	if c.wTotal <= 0 {
		return nil, errors.New("All proposal weights are zero")
	}

	x0 := t.SampleVector(gen)
	lp := t.LogPrior(x0)
	ll, err := t.LogLikelihood(x0)
	if err != nil {
		return nil, errors.Wrap(err, "Initial likelihood evaluation failed")
	}
	if math.IsNaN(ll) || math.IsInf(ll, 0) || math.IsNaN(lp) || math.IsInf(lp, 0) {
		return nil, errors.Errorf("Non-finite posterior (logL=%g, logPrior=%g) at the initial point - model is misconfigured", ll, lp)
	}

	c.X = x0
	c.LogL = ll
	c.LogP = lp

	return c, nil
}

// probeScales estimates per-dimension prior spread from a handful of draws,
// giving the adaptive covariance a sane starting diagonal.
func probeScales(t Target, gen *rand.Generator, dim int) ([]float64, error) {
	sum := make([]float64, dim)
	sumSq := make([]float64, dim)

	for k := 0; k < priorProbeDraws; k++ {
		x := t.SampleVector(gen)
		if len(x) != dim {
			return nil, errors.Errorf("Prior draw has %d entries for dimension %d", len(x), dim)
		}
		for i, v := range x {
			sum[i] += v
			sumSq[i] += v * v
		}
	}

	scales := make([]float64, dim)
	for i := range scales {
		mean := sum[i] / priorProbeDraws
		variance := sumSq[i]/priorProbeDraws - mean*mean
		if variance < 0 {
			variance = 0
		}
		s := math.Sqrt(variance) / 10.0
		if s <= 0 {
			s = math.Max(math.Abs(mean)*1e-3, 1e-10)
		}
		scales[i] = s
	}

	return scales, nil
}

// SetState overrides the chain state, used when resuming from a persisted
// chain file.
func (c *Chain) SetState(x []float64, logL float64, logP float64, iter int64) error {
	if len(x) != c.target.Dim() {
		return errors.Errorf("State has %d entries for dimension %d", len(x), c.target.Dim())
	}

	c.X = make([]float64, len(x))
	copy(c.X, x)
	c.LogL = logL
	c.LogP = logP
	c.Iter = iter
	return nil
}

// pick selects one proposal kernel by weighted random choice.
func (c *Chain) pick() Proposal {
	r := c.gen.Float64() * c.wTotal
	for i, p := range c.props {
		r -= c.weights[i]
		if r < 0 {
			return p
		}
	}
	return c.props[len(c.props)-1]
}

// Step advances the chain one iteration: propose, Metropolis-Hastings
// accept/reject against the temperature-scaled posterior, then update the
// adaptive state. An out-of-bounds proposal or a non-finite likelihood is an
// automatic reject; an error return means the model is misconfigured.
func (c *Chain) Step() error {
	c.Iter++
	c.Proposed++
	c.winProp++
	c.LastAccept = false

	y, ok := c.pick().Propose(c.X, c.gen)
	if !ok {
		// DE has no history yet
		y, _ = c.scam.Propose(c.X, c.gen)
	}

	lp := c.target.LogPrior(y)
	if !math.IsInf(lp, -1) && !math.IsNaN(lp) {
		ll, err := c.target.LogLikelihood(y)
		if err != nil {
			return errors.Wrap(err, "Likelihood evaluation failed mid-chain")
		}

		if !math.IsNaN(ll) && !math.IsInf(ll, 1) {
			logA := c.beta*(ll-c.LogL) + lp - c.LogP
			if logA >= 0 || math.Log(c.gen.Float64()) < logA {
				copy(c.X, y)
				c.LogL = ll
				c.LogP = lp
				c.Accepted++
				c.winAcc++
				c.LastAccept = true
			}
		}
	}

	c.hist.Add(c.X)
	c.adapt.AddSample(c.X)
	c.maybeAdapt()

	return nil
}

// maybeAdapt runs the periodic adaptation: refresh the covariance
// eigendecomposition and retune kernel step scales from the acceptance rate
// since the last adaptation. Once the chain passes the configured freeze
// point the decomposition and scales stay put for the non-adaptive tail.
func (c *Chain) maybeAdapt() {
	if c.cfg.AdaptStop > 0 && c.Iter >= c.cfg.AdaptStop && !c.adapt.Frozen() {
		c.adapt.Freeze()
	}

	if c.Iter%c.cfg.AdaptInterval != 0 || c.adapt.Frozen() {
		return
	}

	// A failed eigendecomposition keeps the previous proposal geometry
	_ = c.adapt.Refresh()

	if c.winProp > 0 {
		rate := float64(c.winAcc) / float64(c.winProp)
		for _, p := range c.props {
			p.AdaptScale(rate)
		}
	}
	c.winAcc = 0
	c.winProp = 0
}

// AcceptRate is the whole-run acceptance fraction.
func (c *Chain) AcceptRate() float64 {
	if c.Proposed == 0 {
		return 0
	}
	return float64(c.Accepted) / float64(c.Proposed)
}

// History exposes the chain's retained state ring (for diagnostics).
func (c *Chain) History() *buffer.CircularVec {
	return c.hist
}
