package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/jwmeyers/ptmc/rand"
)

// testBasis is a fixed basis/prior pair for exercising the marginalization
// edge cases directly.
type testBasis struct {
	name string
	b    *mat.Dense
	phi  []float64
}

func (s *testBasis) Name() string { return s.name }

func (s *testBasis) Cols() int {
	_, c := s.b.Dims()
	return c
}

func (s *testBasis) Basis(v Vals) (*mat.Dense, []float64, error) {
	return s.b, s.phi, nil
}

// denseLogLike forms the full n x n covariance C = N + B phi B^t and
// evaluates the multivariate normal log-density directly - the slow path the
// Woodbury engine must agree with.
func denseLogLike(r []float64, nvec []float64, b *mat.Dense, phi []float64) float64 {
	n := len(r)
	c := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.0
			if i == j {
				v = nvec[i]
			}
			if b != nil {
				for k, p := range phi {
					v += b.At(i, k) * p * b.At(j, k)
				}
			}
			c.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(c); !ok {
		return math.Inf(-1)
	}

	rv := mat.NewVecDense(n, r)
	var sol mat.VecDense
	if err := chol.SolveVecTo(&sol, rv); err != nil {
		return math.Inf(-1)
	}

	return -0.5 * (mat.Dot(rv, &sol) + chol.LogDet() + float64(n)*log2Pi)
}

func polyBasis(n int, cols int) *mat.Dense {
	b := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		x := float64(i)/float64(n-1) - 0.5
		v := 1.0
		for j := 0; j < cols; j++ {
			b.Set(i, j, v)
			v *= x
		}
	}
	return b
}

func TestWhiteOnlyMatchesDirectDensity(t *testing.T) {
	assert := assert.New(t)

	ds := testDataset(t, 14)
	ps := NewParamSet()
	mn, err := NewMeasurementNoise(ds, ps, false)
	assert.NoError(err)

	pm, err := NewPulsarModel(ds, []WhiteSignal{mn}, nil)
	assert.NoError(err)

	v := Vals{
		"J1939_L1_efac":        1.3,
		"J1939_L1_log10_equad": -6.5,
		"J1939_S2_efac":        0.9,
		"J1939_S2_log10_equad": -7.2,
	}

	nvec, err := mn.NVec(v)
	assert.NoError(err)

	var direct float64
	for i, r := range ds.Residuals {
		direct += -0.5 * (r*r/nvec[i] + math.Log(nvec[i]) + log2Pi)
	}

	got, err := pm.LogLikelihood(v)
	assert.NoError(err)
	assert.InDelta(direct, got, math.Abs(direct)*1e-12)
}

func TestWoodburyMatchesDenseCovariance(t *testing.T) {
	assert := assert.New(t)

	ds := testDataset(t, 16)
	b := polyBasis(16, 4)
	phi := []float64{1e-10, 3e-11, 2e-11, 1e-11}
	tb := &testBasis{name: "poly", b: b, phi: phi}

	pm, err := NewPulsarModel(ds, nil, []BasisSignal{tb})
	assert.NoError(err)

	got, err := pm.LogLikelihood(Vals{})
	assert.NoError(err)

	nvec := make([]float64, ds.Len())
	for i, e := range ds.Errs {
		nvec[i] = e * e
	}
	direct := denseLogLike(ds.Residuals, nvec, b, phi)

	assert.False(math.IsInf(got, 0))
	assert.InDelta(direct, got, math.Abs(direct)*1e-9)
}

func TestFlatPriorLimit(t *testing.T) {
	assert := assert.New(t)

	ds := testDataset(t, 16)
	b := polyBasis(16, 3)

	flat := &testBasis{name: "flat", b: b, phi: []float64{math.Inf(1), math.Inf(1), math.Inf(1)}}
	pmFlat, err := NewPulsarModel(ds, nil, []BasisSignal{flat})
	assert.NoError(err)
	llFlat, err := pmFlat.LogLikelihood(Vals{})
	assert.NoError(err)
	assert.False(math.IsInf(llFlat, 0))

	// With a proper prior of variance s, ll + (m/2) log s must converge to
	// the improper flat-prior likelihood as s grows.
	shifted := func(s float64) float64 {
		tb := &testBasis{name: "big", b: b, phi: []float64{s, s, s}}
		pm, err := NewPulsarModel(ds, nil, []BasisSignal{tb})
		assert.NoError(err)
		ll, err := pm.LogLikelihood(Vals{})
		assert.NoError(err)
		return ll + 1.5*math.Log(s)
	}

	d1 := math.Abs(shifted(1e-10) - llFlat)
	d2 := math.Abs(shifted(1e-2) - llFlat)
	assert.True(d2 < d1)
	assert.InDelta(llFlat, shifted(1e-2), math.Abs(llFlat)*1e-6)
}

func TestZeroVarianceColumnsDropped(t *testing.T) {
	assert := assert.New(t)

	ds := testDataset(t, 12)
	b3 := polyBasis(12, 3)
	withZero := &testBasis{name: "z", b: b3, phi: []float64{1e-10, 0.0, 2e-11}}

	// The same model with the zero-variance column physically removed
	b2 := mat.NewDense(12, 2, nil)
	for i := 0; i < 12; i++ {
		b2.Set(i, 0, b3.At(i, 0))
		b2.Set(i, 1, b3.At(i, 2))
	}
	without := &testBasis{name: "z2", b: b2, phi: []float64{1e-10, 2e-11}}

	pmA, err := NewPulsarModel(ds, nil, []BasisSignal{withZero})
	assert.NoError(err)
	pmB, err := NewPulsarModel(ds, nil, []BasisSignal{without})
	assert.NoError(err)

	llA, err := pmA.LogLikelihood(Vals{})
	assert.NoError(err)
	llB, err := pmB.LogLikelihood(Vals{})
	assert.NoError(err)
	assert.InDelta(llB, llA, math.Abs(llB)*1e-12)
}

func TestDegenerateInnerMatrixIsRejectNotError(t *testing.T) {
	assert := assert.New(t)

	ds := testDataset(t, 10)

	// Two identical columns under an improper flat prior make the inner
	// matrix singular: the engine must report -Inf, never fail.
	b := mat.NewDense(10, 2, nil)
	for i := 0; i < 10; i++ {
		b.Set(i, 0, 1.0)
		b.Set(i, 1, 1.0)
	}
	tb := &testBasis{name: "dup", b: b, phi: []float64{math.Inf(1), math.Inf(1)}}

	pm, err := NewPulsarModel(ds, nil, []BasisSignal{tb})
	assert.NoError(err)

	ll, err := pm.LogLikelihood(Vals{})
	assert.NoError(err)
	assert.True(math.IsInf(ll, -1))
}

func buildTestPTA(t *testing.T, fixedWhite bool) (*PTA, *ParamSet) {
	t.Helper()

	ds := testDataset(t, 20)
	ps := NewParamSet()

	mn, err := NewMeasurementNoise(ds, ps, fixedWhite)
	assert.NoError(t, err)
	fb, err := NewFourierBasis(ds, ps, 2)
	assert.NoError(t, err)
	pr, err := NewPrecessionSignal(ds, ps, 0)
	assert.NoError(t, err)

	pm, err := NewPulsarModel(ds, []WhiteSignal{mn}, []BasisSignal{fb, pr})
	assert.NoError(t, err)

	pta, err := NewPTA([]*PulsarModel{pm}, ps)
	assert.NoError(t, err)
	return pta, ps
}

func TestSampleUnpackRoundTrip(t *testing.T) {
	assert := assert.New(t)

	pta, _ := buildTestPTA(t, false)
	gen, err := rand.NewGenerator(99)
	assert.NoError(err)

	x := pta.SampleVector(gen)
	assert.Len(x, pta.Dim())
	assert.True(pta.Dim() >= 6)

	v, err := pta.Unpack(x)
	assert.NoError(err)

	names := pta.Names()
	for i, name := range names {
		assert.Equal(x[i], v[name])
	}

	// Order-preserving bijection: every free name appears exactly once
	seen := make(map[string]bool)
	for _, name := range names {
		assert.False(seen[name])
		seen[name] = true
	}

	lp := pta.LogPrior(x)
	assert.False(math.IsInf(lp, 0))
	assert.False(math.IsNaN(lp))
}

func TestSetDefaults(t *testing.T) {
	assert := assert.New(t)

	pta, ps := buildTestPTA(t, true)

	// Missing required keys fail loudly
	err := pta.SetDefaults(NoiseDict{"J1939_L1_efac": 1.1})
	assert.Error(err)

	nd := NoiseDict{
		"J1939_L1_efac":        1.1,
		"J1939_L1_log10_equad": -6.7,
		"J1939_S2_efac":        0.95,
		"J1939_S2_log10_equad": -7.1,
	}
	assert.NoError(pta.SetDefaults(nd))

	p, ok := ps.Get("J1939_S2_efac")
	assert.True(ok)
	v, err := p.ConstVal()
	assert.NoError(err)
	assert.Equal(0.95, v)

	// Idempotent: the second fill changes nothing
	assert.NoError(pta.SetDefaults(nd))
	v2, err := p.ConstVal()
	assert.NoError(err)
	assert.Equal(v, v2)

	// And the constants flow into the likelihood
	gen, err := rand.NewGenerator(5)
	assert.NoError(err)
	x := pta.SampleVector(gen)
	ll, err := pta.LogLikelihood(x)
	assert.NoError(err)
	assert.False(math.IsNaN(ll))
}

func TestUnsetConstantIsFatal(t *testing.T) {
	assert := assert.New(t)

	pta, _ := buildTestPTA(t, true)
	gen, err := rand.NewGenerator(5)
	assert.NoError(err)

	// Constants were never filled: evaluation is a configuration error,
	// not a -Inf reject
	_, err = pta.LogLikelihood(pta.SampleVector(gen))
	assert.Error(err)
}

func TestMultiPulsarSum(t *testing.T) {
	assert := assert.New(t)

	ps := NewParamSet()
	var pulsars []*PulsarModel
	for _, name := range []string{"J0030", "J1713"} {
		base := testDataset(t, 12)
		ds, err := NewDataset(name, base.TOAs, base.Residuals, base.Errs, base.Backends, nil)
		assert.NoError(err)

		mn, err := NewMeasurementNoise(ds, ps, false)
		assert.NoError(err)
		pm, err := NewPulsarModel(ds, []WhiteSignal{mn}, nil)
		assert.NoError(err)
		pulsars = append(pulsars, pm)
	}

	pta, err := NewPTA(pulsars, ps)
	assert.NoError(err)

	gen, err := rand.NewGenerator(11)
	assert.NoError(err)
	x := pta.SampleVector(gen)

	joint, err := pta.LogLikelihood(x)
	assert.NoError(err)

	v, err := pta.Unpack(x)
	assert.NoError(err)
	var sum float64
	for _, pm := range pulsars {
		ll, err := pm.LogLikelihood(v)
		assert.NoError(err)
		sum += ll
	}
	assert.InDelta(sum, joint, math.Abs(sum)*1e-12)
}

func TestOutOfBoundsPriorRejects(t *testing.T) {
	assert := assert.New(t)

	pta, _ := buildTestPTA(t, false)
	gen, err := rand.NewGenerator(3)
	assert.NoError(err)

	x := pta.SampleVector(gen)
	x[0] = -1e30 // far outside any declared bound
	assert.True(math.IsInf(pta.LogPrior(x), -1))
}
