package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwmeyers/ptmc/sampler"
)

// RunSampling composes the engine, builds the sampler, and runs the chain to
// completion or controlled interruption. SIGINT/SIGTERM cancel the run
// cooperatively: the in-flight iteration finishes and the buffer is flushed,
// so a later --resume picks up exactly where the file ends.
func RunSampling(sp *startupParams) error {
	pta, err := buildPTA(sp)
	if err != nil {
		return err
	}
	sp.out.Printf("Model has %d pulsars and %d free parameters\n", len(pta.Pulsars), pta.Dim())

	cfg := &sampler.Config{
		Iterations:    sp.iterations,
		Seed:          sp.randomSeed,
		OutDir:        sp.outDir,
		Resume:        sp.resume,
		SCAMWeight:    sp.scamWeight,
		AMWeight:      sp.amWeight,
		DEWeight:      sp.deWeight,
		AdaptInterval: sp.adaptInterval,
		AdaptStop:     sp.adaptStop,
		Ladder:        sp.ladder,
		SwapInterval:  sp.swapInterval,
		FlushInterval: sp.flushInterval,
	}

	smp, err := sampler.NewSampler(pta, cfg)
	if err != nil {
		return err
	}
	sp.out.Printf("Run %s: %d iterations, %d temperature(s), output in %s\n",
		smp.RunID, sp.iterations, len(cfg.Ladder), sp.outDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := &monitor{}
	if len(sp.monitorAddr) > 0 {
		if err := mon.Start(sp.monitorAddr); err != nil {
			return err
		}
		defer mon.Stop()

		mon.MaxIters.Set(sp.iterations)
		mon.Temperatures.Set(int64(len(cfg.Ladder)))
		go func() {
			startTime := time.Now()
			tick := time.NewTicker(time.Second)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-tick.C:
					mon.Iterations.Set(smp.Iteration())
					mon.AcceptRate.Set(smp.AcceptRate())
					mon.SwapRate.Set(smp.SwapRate())
					mon.RunTime.Set(time.Since(startTime).Seconds())
				}
			}
		}()
	}

	err = smp.Run(ctx)
	if err == context.Canceled {
		sp.out.Printf("Interrupted after %d iterations - chain flushed, resume with --resume\n", smp.Iteration())
		return nil
	}
	if err != nil {
		return err
	}

	sp.out.Printf("Completed %d iterations, acceptance rate %.3f", smp.Iteration(), smp.AcceptRate())
	if len(cfg.Ladder) > 1 {
		sp.out.Printf(", swap rate %.3f", smp.SwapRate())
	}
	sp.out.Printf("\n")

	summ, err := smp.Summary()
	if err != nil {
		return err
	}
	for _, ps := range summ {
		sp.out.Printf("%-40s mean=%12.5g sd=%12.5g drift=%12.5g\n", ps.Name, ps.Mean, ps.StdDev, ps.HalfDrift)
	}

	return nil
}
