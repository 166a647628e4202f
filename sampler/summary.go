package sampler

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// ParamSummary is the post-run report for one sampled parameter over the
// retained cold-chain history. HalfDrift is the mean shift between the older
// and newer halves of the history window - a cheap stationarity check; it is
// zero until the window has filled.
type ParamSummary struct {
	Name      string
	Mean      float64
	StdDev    float64
	HalfDrift float64
}

// Summary computes per-parameter statistics from the cold chain's history
// ring. Call after Run; the numbers describe only the retained window, not
// the full persisted chain.
func (s *Sampler) Summary() ([]ParamSummary, error) {
	hist := s.chains[0].History()
	if hist.Count < 2 {
		return nil, errors.Errorf("Only %d retained samples - nothing to summarize", hist.Count)
	}

	names := s.Target.Names()
	dim := s.Target.Dim()
	out := make([]ParamSummary, dim)

	col := make([]float64, hist.Count)
	for j := 0; j < dim; j++ {
		for i := 0; i < hist.Count; i++ {
			col[i] = hist.At(i)[j]
		}

		mean, err := stats.Mean(col)
		if err != nil {
			return nil, errors.Wrapf(err, "Could not summarize param %s", names[j])
		}
		sd, err := stats.StandardDeviation(col)
		if err != nil {
			return nil, errors.Wrapf(err, "Could not summarize param %s", names[j])
		}

		out[j] = ParamSummary{
			Name:   names[j],
			Mean:   mean,
			StdDev: sd,
		}

		// Drift between history halves, once the ring is full
		if first := hist.FirstHalf(); first != nil {
			var fSum, sSum float64
			half := float64(hist.BufSize / 2)
			for first.Next() {
				fSum += first.Value()[j]
			}
			second := hist.SecondHalf()
			for second.Next() {
				sSum += second.Value()[j]
			}
			out[j].HalfDrift = sSum/half - fSum/half
		}
	}

	return out, nil
}
