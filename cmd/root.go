package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

// startupParams carries everything the commands need: loggers plus the
// parsed flag values. One instance is built in Execute and passed through
// every command func - no package-level mutable state beyond the flag
// targets themselves.
type startupParams struct {
	out     *log.Logger
	verbose bool

	dataFiles []string
	noiseFile string
	outDir    string

	iterations    int64
	randomSeed    int64
	resume        bool
	scamWeight    float64
	amWeight      float64
	deWeight      float64
	adaptInterval int64
	adaptStop     int64
	ladder        []float64
	swapInterval  int64
	flushInterval int64

	fixedWhite  bool
	ecorr       bool
	redNoise    bool
	nfreq       int
	precession  bool
	monitorAddr string
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ptmc",
	Short: "Pulsar timing noise-model sampling",
	Long: `ptmc samples pulsar timing noise-model posteriors.
Amoung other features:

  - A marginal-likelihood engine for additive noise models
    (EFAC/EQUAD, ECORR, red noise, timing model, precession)
  - An adaptive Metropolis sampler with SCAM/AM/DE kernels
  - Optional parallel tempering with a resumable chain file
`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sp := &startupParams{
		out: log.New(os.Stdout, "", 0),
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&sp.verbose, "verbose", "v", false, "Verbose logging (default is much more parsimonious)")
	pf.StringSliceVarP(&sp.dataFiles, "data", "d", nil, "Per-pulsar dataset file (JSON), repeatable")
	pf.StringVarP(&sp.noiseFile, "noise", "n", "", "Noise dictionary file (JSON) for constant parameters")
	pf.StringVarP(&sp.outDir, "outdir", "o", "chains", "Output directory for the chain file")
	pf.Int64VarP(&sp.randomSeed, "seed", "r", 1, "Random seed to use")

	pf.BoolVar(&sp.fixedWhite, "fixed-white", false, "Hold EFAC/EQUAD (and ECORR) constant from the noise dictionary")
	pf.BoolVar(&sp.ecorr, "ecorr", false, "Include epoch-correlated (ECORR) white noise")
	pf.BoolVar(&sp.redNoise, "red-noise", false, "Include power-law red noise")
	pf.IntVar(&sp.nfreq, "nfreq", 30, "Red noise harmonic count")
	pf.BoolVar(&sp.precession, "precession", false, "Include the precession red-noise model")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Sample the noise-model posterior",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunSampling(sp)
		},
	}
	rf := runCmd.Flags()
	rf.Int64VarP(&sp.iterations, "iterations", "N", 100000, "Total iteration count")
	rf.BoolVar(&sp.resume, "resume", false, "Continue an interrupted run from the existing chain file")
	rf.Float64Var(&sp.scamWeight, "scam-weight", 30, "Relative weight of the SCAM kernel")
	rf.Float64Var(&sp.amWeight, "am-weight", 15, "Relative weight of the AM kernel")
	rf.Float64Var(&sp.deWeight, "de-weight", 50, "Relative weight of the DE kernel")
	rf.Int64Var(&sp.adaptInterval, "adapt-interval", 100, "Iterations between proposal adaptations")
	rf.Int64Var(&sp.adaptStop, "adapt-stop", 0, "Freeze adaptation after this iteration (0 = never)")
	rf.Float64SliceVar(&sp.ladder, "ladder", nil, "Temperature ladder for parallel tempering (coldest first)")
	rf.Int64Var(&sp.swapInterval, "swap-interval", 100, "Iterations between tempering swap attempts")
	rf.Int64Var(&sp.flushInterval, "flush-interval", 1000, "Iterations between chain file flushes")
	rf.StringVar(&sp.monitorAddr, "monitor", "", "Expose expvar progress over HTTP at this address (e.g. :8000)")
	rootCmd.AddCommand(runCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Compose the model and evaluate one likelihood",
		RunE: func(cmd *cobra.Command, args []string) error {
			return CheckModel(sp)
		},
	}
	rootCmd.AddCommand(checkCmd)

	rootCmd.MarkPersistentFlagRequired("data")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
