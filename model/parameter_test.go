package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwmeyers/ptmc/rand"
)

func TestUniformBounds(t *testing.T) {
	assert := assert.New(t)

	p, err := NewUniform("x", -2.0, 3.0)
	assert.NoError(err)
	assert.True(p.Free())

	// Bounds themselves are inside the support
	assert.False(math.IsInf(p.LogPrior(-2.0), -1))
	assert.False(math.IsInf(p.LogPrior(3.0), -1))
	assert.InDelta(-math.Log(5.0), p.LogPrior(0.0), 1e-12)

	// One representable step beyond either bound is outside
	assert.True(math.IsInf(p.LogPrior(math.Nextafter(-2.0, -3.0)), -1))
	assert.True(math.IsInf(p.LogPrior(math.Nextafter(3.0, 4.0)), -1))

	_, err = NewUniform("bad", 1.0, 1.0)
	assert.Error(err)
}

func TestUniformSampleInSupport(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	p, err := NewUniform("x", 10.0, 20.0)
	assert.NoError(err)

	for i := 0; i < 1000; i++ {
		v := p.Sample(gen)
		assert.True(v >= 10.0 && v <= 20.0)
		assert.False(math.IsInf(p.LogPrior(v), -1))
	}
}

func TestLogUniform(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(7)
	assert.NoError(err)

	p, err := NewLogUniform("amp", -8.0, -5.0)
	assert.NoError(err)

	for i := 0; i < 1000; i++ {
		v := p.Sample(gen)
		assert.True(v >= 1e-8 && v <= 1e-5)
	}

	assert.True(math.IsInf(p.LogPrior(0.999e-8), -1))
	assert.True(math.IsInf(p.LogPrior(1.001e-5), -1))
	assert.False(math.IsInf(p.LogPrior(1e-8), -1))
	assert.False(math.IsInf(p.LogPrior(1e-5), -1))

	// Density is 1/(x ln10 (hi-lo)) inside the support
	exp := -math.Log(1e-6) - math.Log(math.Ln10*3.0)
	assert.InDelta(exp, p.LogPrior(1e-6), 1e-12)
}

func TestNormalPrior(t *testing.T) {
	assert := assert.New(t)

	p, err := NewNormal("y", 1.0, 2.0)
	assert.NoError(err)

	exp := -0.5*math.Log(2.0*math.Pi*4.0) - 0.5*0.25
	assert.InDelta(exp, p.LogPrior(2.0), 1e-12)

	_, err = NewNormal("bad", 0.0, -1.0)
	assert.Error(err)
}

func TestConstantLifecycle(t *testing.T) {
	assert := assert.New(t)

	p, err := NewConstant("J1939_L1_efac")
	assert.NoError(err)
	assert.False(p.Free())
	assert.Equal(0.0, p.LogPrior(1.2345))

	// Reading before filling is a configuration error
	_, err = p.ConstVal()
	assert.Error(err)

	assert.NoError(p.SetConst(1.1))
	v, err := p.ConstVal()
	assert.NoError(err)
	assert.Equal(1.1, v)

	// Refilling with the same value is fine (idempotent default-fill)
	assert.NoError(p.SetConst(1.1))
	v, err = p.ConstVal()
	assert.NoError(err)
	assert.Equal(1.1, v)
}

func TestParamSetSharing(t *testing.T) {
	assert := assert.New(t)

	ps := NewParamSet()

	p1, err := NewUniform("J1939_L1_efac", 0.01, 10.0)
	assert.NoError(err)
	got1, err := ps.Add(p1)
	assert.NoError(err)

	// A second signal declaring the same parameter gets the SAME instance
	p2, err := NewUniform("J1939_L1_efac", 0.01, 10.0)
	assert.NoError(err)
	got2, err := ps.Add(p2)
	assert.NoError(err)
	assert.True(got1 == got2)

	// A conflicting redefinition is rejected
	p3, err := NewUniform("J1939_L1_efac", 0.0, 5.0)
	assert.NoError(err)
	_, err = ps.Add(p3)
	assert.Error(err)
}

func TestParamSetOrdering(t *testing.T) {
	assert := assert.New(t)

	ps := NewParamSet()
	names := []string{"c", "a", "b"}
	for _, n := range names {
		p, err := NewUniform(n, 0.0, 1.0)
		assert.NoError(err)
		_, err = ps.Add(p)
		assert.NoError(err)
	}

	konst, err := NewConstant("k")
	assert.NoError(err)
	_, err = ps.Add(konst)
	assert.NoError(err)

	free := ps.Free()
	assert.Len(free, 3)
	for i, n := range names {
		assert.Equal(n, free[i].Name) // registration order, not sorted
	}

	cs := ps.Constants()
	assert.Len(cs, 1)
	assert.Equal("k", cs[0].Name)
}
