package sampler

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jwmeyers/ptmc/buffer"
	"github.com/jwmeyers/ptmc/rand"
)

// A Target is the posterior a Sampler explores: typically a model.PTA, but
// anything exposing the flat-vector contract works. LogPrior returns -Inf
// outside the support (automatic reject); LogLikelihood returns an error
// only for configuration problems, with numerical degeneracy expressed as
// -Inf.
type Target interface {
	Dim() int
	Names() []string
	LogLikelihood(x []float64) (float64, error)
	LogPrior(x []float64) float64
	SampleVector(gen *rand.Generator) []float64
}

// A Proposal is one jump kernel. Propose returns ok=false when the kernel
// cannot produce a move yet (the chain falls back to SCAM). Proposals are
// symmetric: no density correction enters the acceptance ratio.
type Proposal interface {
	Name() string
	Propose(x []float64, gen *rand.Generator) ([]float64, bool)
	AdaptScale(accRate float64)
}

// Config collects the recognized sampling options. Zero values are replaced
// by defaults in NewSampler.
type Config struct {
	Iterations int64
	Seed       int64
	OutDir     string
	Resume     bool

	SCAMWeight float64
	AMWeight   float64
	DEWeight   float64

	AdaptInterval int64
	AdaptStop     int64 // freeze adaptation after this iteration (0 = never)
	TargetAccept  float64
	HistorySize   int

	Ladder       []float64 // temperatures, coldest first; empty means {1}
	SwapInterval int64

	FlushInterval int64
	FlushRetries  int
}

func (c *Config) withDefaults() (*Config, error) {
	cfg := *c

	if cfg.Iterations < 1 {
		return nil, errors.Errorf("Invalid iteration count %d", cfg.Iterations)
	}
	if len(cfg.OutDir) < 1 {
		return nil, errors.New("No output directory configured")
	}

	if cfg.SCAMWeight == 0 && cfg.AMWeight == 0 && cfg.DEWeight == 0 {
		cfg.SCAMWeight, cfg.AMWeight, cfg.DEWeight = 30, 15, 50
	}
	if cfg.AdaptInterval < 1 {
		cfg.AdaptInterval = 100
	}
	if cfg.TargetAccept <= 0 || cfg.TargetAccept >= 1 {
		cfg.TargetAccept = 0.25
	}
	if cfg.HistorySize < 4 {
		cfg.HistorySize = 1000
	}
	if len(cfg.Ladder) == 0 {
		cfg.Ladder = []float64{1.0}
	}
	if cfg.Ladder[0] != 1.0 {
		return nil, errors.Errorf("Temperature ladder must start at 1, got %g", cfg.Ladder[0])
	}
	for i := 1; i < len(cfg.Ladder); i++ {
		if cfg.Ladder[i] <= cfg.Ladder[i-1] {
			return nil, errors.Errorf("Temperature ladder must increase, got %v", cfg.Ladder)
		}
	}
	if cfg.SwapInterval < 1 {
		cfg.SwapInterval = 100
	}
	if cfg.FlushInterval < 1 {
		cfg.FlushInterval = 1000
	}
	if cfg.FlushRetries < 1 {
		cfg.FlushRetries = 3
	}

	return &cfg, nil
}

// Sampler drives the tempered chain ensemble over a Target and persists the
// cold chain. All mutable sampling state lives in the Sampler and its
// Chains; there are no package-level singletons, so independent runs can
// coexist in one process.
type Sampler struct {
	Target Target
	RunID  string

	cfg     *Config
	chains  []*Chain
	swapGen *rand.Generator
	rows    *buffer.RowBuffer

	iterDone     atomic.Int64
	coldAccepted atomic.Int64
	swapProposed atomic.Int64
	swapAccepted atomic.Int64
}

// ChainFileName is the cold-chain output file inside OutDir.
const ChainFileName = "chain_1.txt"

// NewSampler validates the configuration, prepares the output directory, and
// builds one chain per ladder temperature. Resume state is picked up in Run.
func NewSampler(t Target, cfg *Config) (*Sampler, error) {
	full, err := cfg.withDefaults()
	if err != nil {
		return nil, errors.Wrap(err, "Bad sampler configuration")
	}

	if err := os.MkdirAll(full.OutDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "Could not create output directory %s", full.OutDir)
	}

	rows, err := buffer.NewRowBuffer(filepath.Join(full.OutDir, ChainFileName), t.Dim()+3, full.FlushRetries)
	if err != nil {
		return nil, err
	}

	swapGen, err := rand.NewGenerator(full.Seed + 7919)
	if err != nil {
		return nil, err
	}

	s := &Sampler{
		Target:  t,
		RunID:   uuid.New().String(),
		cfg:     full,
		swapGen: swapGen,
		rows:    rows,
	}

	for i, temp := range full.Ladder {
		gen, err := rand.NewGenerator(full.Seed + int64(i)*1000)
		if err != nil {
			return nil, err
		}
		ch, err := NewChain(t, full, temp, gen)
		if err != nil {
			return nil, errors.Wrapf(err, "Could not build chain at temperature %g", temp)
		}
		s.chains = append(s.chains, ch)
	}

	if err := s.writeMeta(); err != nil {
		return nil, err
	}

	return s, nil
}

// writeMeta records the flat-vector column order and the run identity next
// to the chain file so a chain can always be interpreted and resumed runs
// can be traced to their origin.
func (s *Sampler) writeMeta() error {
	var sb strings.Builder
	for _, name := range s.Target.Names() {
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	sb.WriteString("logpost\nloglike\naccept\n")

	pPath := filepath.Join(s.cfg.OutDir, "params.txt")
	if err := os.WriteFile(pPath, []byte(sb.String()), 0644); err != nil {
		return errors.Wrapf(err, "Could not write %s", pPath)
	}

	info := fmt.Sprintf("run %s\ndim %d\nladder %v\n", s.RunID, s.Target.Dim(), s.cfg.Ladder)
	iPath := filepath.Join(s.cfg.OutDir, "runinfo.txt")
	if err := os.WriteFile(iPath, []byte(info), 0644); err != nil {
		return errors.Wrapf(err, "Could not write %s", iPath)
	}

	return nil
}

// prepare handles the resume-or-restart decision: resuming restores the cold
// chain from the last persisted row and returns the completed iteration
// count; a fresh run clears any stale chain file.
func (s *Sampler) prepare() (int64, error) {
	if !s.cfg.Resume {
		path := filepath.Join(s.cfg.OutDir, ChainFileName)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return 0, errors.Wrapf(err, "Could not clear stale chain file %s", path)
		}
		if _, err := s.rows.CountRows(); err != nil {
			return 0, err
		}
		return 0, nil
	}

	done, err := s.rows.CountRows()
	if err != nil {
		return 0, err
	}
	if done == 0 {
		return 0, nil
	}

	last, err := s.rows.LastRow()
	if err != nil {
		return 0, errors.Wrap(err, "Could not restore chain state for resume")
	}

	dim := s.Target.Dim()
	x := last[:dim]
	logPost := last[dim]
	logL := last[dim+1]
	if err := s.chains[0].SetState(x, logL, logPost-logL, done); err != nil {
		return 0, err
	}

	return done, nil
}

// Run executes the remaining iterations. Cancellation is cooperative: the
// context is checked once per iteration boundary, the in-flight iteration
// always completes, and the buffer is flushed before unwinding so resume
// semantics stay valid.
func (s *Sampler) Run(ctx context.Context) error {
	start, err := s.prepare()
	if err != nil {
		return err
	}
	if start >= s.cfg.Iterations {
		return nil
	}

	cold := s.chains[0]
	row := make([]float64, s.Target.Dim()+3)

	for i := start; i < s.cfg.Iterations; i++ {
		select {
		case <-ctx.Done():
			if ferr := s.rows.Flush(); ferr != nil {
				return ferr
			}
			return ctx.Err()
		default:
		}

		if err := s.stepAll(); err != nil {
			return err
		}

		if len(s.chains) > 1 && (i+1)%s.cfg.SwapInterval == 0 {
			s.trySwaps()
		}

		copy(row, cold.X)
		row[len(cold.X)] = cold.LogL + cold.LogP
		row[len(cold.X)+1] = cold.LogL
		if cold.LastAccept {
			row[len(cold.X)+2] = 1
			s.coldAccepted.Add(1)
		} else {
			row[len(cold.X)+2] = 0
		}

		if err := s.rows.Append(row); err != nil {
			return err
		}
		if (i+1)%s.cfg.FlushInterval == 0 {
			if err := s.rows.Flush(); err != nil {
				return err
			}
		}

		s.iterDone.Add(1)
	}

	return s.rows.Flush()
}

// stepAll advances every temperature one iteration. Chains are independent
// between swap points, so they step concurrently; each owns its state and
// generator, keeping the lockstep deterministic for a fixed seed.
func (s *Sampler) stepAll() error {
	if len(s.chains) == 1 {
		return s.chains[0].Step()
	}

	var g errgroup.Group
	for _, ch := range s.chains {
		ch := ch
		g.Go(ch.Step)
	}
	return g.Wait()
}

// trySwaps proposes state exchanges between adjacent temperatures, hottest
// pair first. The acceptance ratio uses only the likelihood part scaled by
// the inverse-temperature difference.
func (s *Sampler) trySwaps() {
	for i := len(s.chains) - 1; i > 0; i-- {
		lo, hi := s.chains[i-1], s.chains[i]
		s.swapProposed.Add(1)

		logA := (1.0/lo.Temp - 1.0/hi.Temp) * (hi.LogL - lo.LogL)
		if logA >= 0 || math.Log(s.swapGen.Float64()) < logA {
			lo.X, hi.X = hi.X, lo.X
			lo.LogL, hi.LogL = hi.LogL, lo.LogL
			lo.LogP, hi.LogP = hi.LogP, lo.LogP
			s.swapAccepted.Add(1)
		}
	}
}

// Iteration is the completed-iteration count (safe to read while running).
func (s *Sampler) Iteration() int64 {
	return s.iterDone.Load()
}

// AcceptRate is the running cold-chain acceptance fraction (safe to read
// while running).
func (s *Sampler) AcceptRate() float64 {
	n := s.iterDone.Load()
	if n == 0 {
		return 0
	}
	return float64(s.coldAccepted.Load()) / float64(n)
}

// SwapRate is the accepted fraction of tempering swaps (safe to read while
// running).
func (s *Sampler) SwapRate() float64 {
	n := s.swapProposed.Load()
	if n == 0 {
		return 0
	}
	return float64(s.swapAccepted.Load()) / float64(n)
}

// ColdChain exposes the T=1 chain (for diagnostics after Run).
func (s *Sampler) ColdChain() *Chain {
	return s.chains[0]
}
