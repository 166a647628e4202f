package sampler

import (
	"fmt"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/jwmeyers/ptmc/rand"
)

// gaussTarget is a standalone unit Gaussian with a broad uniform prior, used
// to exercise the chains without a full pulsar model.
type gaussTarget struct {
	dim int
}

func (g *gaussTarget) Dim() int {
	return g.dim
}

func (g *gaussTarget) Names() []string {
	names := make([]string, g.dim)
	for i := range names {
		names[i] = fmt.Sprintf("x%d", i)
	}
	return names
}

func (g *gaussTarget) LogLikelihood(x []float64) (float64, error) {
	var s float64
	for _, v := range x {
		s += v * v
	}
	return -0.5 * s, nil
}

func (g *gaussTarget) LogPrior(x []float64) float64 {
	for _, v := range x {
		if v < -10.0 || v > 10.0 {
			return math.Inf(-1)
		}
	}
	return -float64(g.dim) * math.Log(20.0)
}

func (g *gaussTarget) SampleVector(gen *rand.Generator) []float64 {
	x := make([]float64, g.dim)
	for i := range x {
		x[i] = -10.0 + 20.0*gen.Float64()
	}
	return x
}

func testConfig(t *testing.T) *Config {
	cfg := &Config{Iterations: 1, OutDir: t.TempDir()}
	full, err := cfg.withDefaults()
	if err != nil {
		t.Fatalf("Config setup failed: %v", err)
	}
	return full
}

func TestNewChainValidation(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig(t)
	gen, err := rand.NewGenerator(11)
	assert.NoError(err)

	_, err = NewChain(nil, cfg, 1.0, gen)
	assert.Error(err)

	_, err = NewChain(&gaussTarget{dim: 2}, cfg, 0.5, gen)
	assert.Error(err)
}

func TestChainGaussianSteps(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig(t)
	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	ch, err := NewChain(&gaussTarget{dim: 3}, cfg, 1.0, gen)
	assert.NoError(err)

	for i := 0; i < 4000; i++ {
		assert.NoError(ch.Step())
	}

	assert.Equal(int64(4000), ch.Iter)
	rate := ch.AcceptRate()
	assert.True(rate > 0.0, "acceptance rate %g", rate)
	assert.True(rate < 1.0, "acceptance rate %g", rate)

	// The history window should have filled and settled near the mode
	hist := ch.History()
	assert.Equal(cfg.HistorySize, hist.Count)
	for j := 0; j < 3; j++ {
		var m float64
		for i := 0; i < hist.Count; i++ {
			m += hist.At(i)[j] / float64(hist.Count)
		}
		assert.True(math.Abs(m) < 2.0, "window mean %g for coordinate %d", m, j)
	}

	// State always carries a finite posterior
	assert.False(math.IsNaN(ch.LogL) || math.IsInf(ch.LogL, 0))
	assert.False(math.IsNaN(ch.LogP) || math.IsInf(ch.LogP, 0))
}

// flakyTarget turns non-finite (or failing) after its first likelihood call,
// which NewChain consumes for the starting point.
type flakyTarget struct {
	gaussTarget
	calls int
	nan   bool
	fail  bool
}

func (f *flakyTarget) LogLikelihood(x []float64) (float64, error) {
	f.calls++
	if f.calls > 1 {
		if f.fail {
			return 0, errors.New("Backing store went away")
		}
		if f.nan {
			return math.NaN(), nil
		}
	}
	return f.gaussTarget.LogLikelihood(x)
}

func TestChainNaNLikelihoodIsReject(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig(t)
	gen, err := rand.NewGenerator(7)
	assert.NoError(err)

	tgt := &flakyTarget{gaussTarget: gaussTarget{dim: 2}, nan: true}
	ch, err := NewChain(tgt, cfg, 1.0, gen)
	assert.NoError(err)

	x0 := make([]float64, 2)
	copy(x0, ch.X)
	ll0 := ch.LogL

	for i := 0; i < 50; i++ {
		assert.NoError(ch.Step())
	}

	assert.Equal(int64(0), ch.Accepted)
	assert.Equal(x0, ch.X)
	assert.Equal(ll0, ch.LogL)
}

func TestChainLikelihoodErrorIsFatal(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig(t)
	gen, err := rand.NewGenerator(7)
	assert.NoError(err)

	tgt := &flakyTarget{gaussTarget: gaussTarget{dim: 2}, fail: true}
	ch, err := NewChain(tgt, cfg, 1.0, gen)
	assert.NoError(err)

	var stepErr error
	for i := 0; i < 50 && stepErr == nil; i++ {
		stepErr = ch.Step()
	}
	assert.Error(stepErr)
}

// nanTarget is non-finite everywhere, which NewChain must refuse.
type nanTarget struct {
	gaussTarget
}

func (n *nanTarget) LogLikelihood(x []float64) (float64, error) {
	return math.NaN(), nil
}

func TestNewChainNonFiniteStartIsFatal(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig(t)
	gen, err := rand.NewGenerator(3)
	assert.NoError(err)

	_, err = NewChain(&nanTarget{gaussTarget{dim: 2}}, cfg, 1.0, gen)
	assert.Error(err)
}

func TestChainSetState(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig(t)
	gen, err := rand.NewGenerator(5)
	assert.NoError(err)

	ch, err := NewChain(&gaussTarget{dim: 2}, cfg, 1.0, gen)
	assert.NoError(err)

	assert.Error(ch.SetState([]float64{1.0}, -1.0, -2.0, 10))

	assert.NoError(ch.SetState([]float64{0.5, -0.5}, -1.0, -2.0, 10))
	assert.Equal([]float64{0.5, -0.5}, ch.X)
	assert.Equal(-1.0, ch.LogL)
	assert.Equal(-2.0, ch.LogP)
	assert.Equal(int64(10), ch.Iter)
}
