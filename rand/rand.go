package rand

import (
	"math"

	"github.com/seehuhn/mt19937"
)

// A Generator uses a goroutine to populate batches of random numbers from a
// seeded Mersenne twister. A single consumer sees a deterministic stream for
// a given seed, which is what lets two sampling runs with the same seed agree.
type Generator struct {
	ch        chan int64
	spare     float64
	haveSpare bool
}

// NewGenerator starts a new background PRNG based on the given seed
func NewGenerator(seed int64) (*Generator, error) {
	numChan := make(chan int64, 1024)

	go func() {
		r := mt19937.New()
		r.Seed(seed)
		for {
			numChan <- r.Int63()
		}
	}()

	g := &Generator{
		ch: numChan,
	}

	return g, nil
}

// Int63 provides the same interface as Go's math/rand, but with pre-generation.
func (g *Generator) Int63() int64 {
	return <-g.ch
}

// Int63n is a copy of the current Go code
func (g *Generator) Int63n(n int64) int64 {
	if n <= 0 {
		panic("invalid argument to Int63n")
	}

	if n&(n-1) == 0 { // n is power of two, can mask
		return g.Int63() & (n - 1)
	}

	max := int64((1 << 63) - 1 - (1<<63)%uint64(n))
	v := g.Int63()
	for v > max {
		v = g.Int63()
	}

	return v % n
}

// Intn is Int63n for plain ints (proposal kernels index with ints).
func (g *Generator) Intn(n int) int {
	return int(g.Int63n(int64(n)))
}

// Float64 uses the commented, simpler implmentation since we don't have the
// same support requirements for users
func (g *Generator) Float64() float64 {
	// See the Go lang comments for Rand Float64 implementation for details
	return float64(g.Int63n(1<<53)) / (1 << 53)
}

// NormFloat64 returns a standard normal variate via the Marsaglia polar
// method. A spare variate is cached between calls, so a Generator must not be
// shared across goroutines.
func (g *Generator) NormFloat64() float64 {
	if g.haveSpare {
		g.haveSpare = false
		return g.spare
	}

	for {
		u := 2.0*g.Float64() - 1.0
		v := 2.0*g.Float64() - 1.0
		s := u*u + v*v
		if s >= 1.0 || s == 0.0 {
			continue
		}

		f := math.Sqrt(-2.0 * math.Log(s) / s)
		g.spare = v * f
		g.haveSpare = true
		return u * f
	}
}
