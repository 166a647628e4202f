package model

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// Dataset is the finished per-pulsar input produced by the (external) data
// loading layer: time-ordered TOAs, timing residuals, uncertainties, a
// backend tag per observation, and the fixed timing-model design matrix.
type Dataset struct {
	Name      string      `json:"name"`
	TOAs      []float64   `json:"toas"`      // seconds
	Residuals []float64   `json:"residuals"` // seconds
	Errs      []float64   `json:"errs"`      // seconds
	Backends  []string    `json:"backends"`
	Design    [][]float64 `json:"design"` // n rows of m columns

	groups   map[string][]int
	backends []string
}

// NewDatasetFromFile reads and validates a per-pulsar dataset in JSON form.
func NewDatasetFromFile(filename string) (*Dataset, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ dataset from %s", filename)
	}
	return NewDatasetFromBuffer(data)
}

// NewDatasetFromBuffer creates a dataset from pre-read JSON data.
func NewDatasetFromBuffer(data []byte) (*Dataset, error) {
	ds := &Dataset{}
	if err := json.Unmarshal(data, ds); err != nil {
		return nil, errors.Wrap(err, "Could not PARSE dataset")
	}

	if err := ds.Check(); err != nil {
		return nil, errors.Wrap(err, "Parsed dataset is not valid")
	}

	ds.buildGroups()
	return ds, nil
}

// NewDataset builds a dataset directly from arrays (mainly for tests and
// embedding callers that already hold the data in memory).
func NewDataset(name string, toas, residuals, errs []float64, backends []string, design [][]float64) (*Dataset, error) {
	ds := &Dataset{
		Name:      name,
		TOAs:      toas,
		Residuals: residuals,
		Errs:      errs,
		Backends:  backends,
		Design:    design,
	}

	if err := ds.Check(); err != nil {
		return nil, err
	}

	ds.buildGroups()
	return ds, nil
}

// Check returns an error if there is a problem with the dataset. Shape
// mismatches here are fatal configuration errors per the error taxonomy.
func (ds *Dataset) Check() error {
	n := len(ds.TOAs)
	if n < 1 {
		return errors.Errorf("Dataset %s has no observations", ds.Name)
	}
	if len(ds.Residuals) != n {
		return errors.Errorf("Dataset %s has %d residuals for %d TOAs", ds.Name, len(ds.Residuals), n)
	}
	if len(ds.Errs) != n {
		return errors.Errorf("Dataset %s has %d uncertainties for %d TOAs", ds.Name, len(ds.Errs), n)
	}
	if len(ds.Backends) != n {
		return errors.Errorf("Dataset %s has %d backend tags for %d TOAs", ds.Name, len(ds.Backends), n)
	}

	for i := 1; i < n; i++ {
		if ds.TOAs[i] < ds.TOAs[i-1] {
			return errors.Errorf("Dataset %s TOAs are not time-ordered at index %d", ds.Name, i)
		}
	}

	for i, e := range ds.Errs {
		if e <= 0 {
			return errors.Errorf("Dataset %s has non-positive uncertainty %g at index %d", ds.Name, e, i)
		}
	}

	for i, row := range ds.Design {
		if len(row) != len(ds.Design[0]) {
			return errors.Errorf("Dataset %s design matrix row %d is ragged", ds.Name, i)
		}
	}
	if len(ds.Design) > 0 && len(ds.Design) != n {
		return errors.Errorf("Dataset %s design matrix has %d rows for %d TOAs", ds.Name, len(ds.Design), n)
	}

	return nil
}

// Len is the observation count.
func (ds *Dataset) Len() int {
	return len(ds.TOAs)
}

// Span is the total observing baseline in seconds.
func (ds *Dataset) Span() float64 {
	return ds.TOAs[len(ds.TOAs)-1] - ds.TOAs[0]
}

// buildGroups precomputes the partition of observation indices by backend
// tag. Computed once at load time and immutable thereafter: white-noise
// signals index into these groups instead of re-matching tag strings.
func (ds *Dataset) buildGroups() {
	ds.groups = make(map[string][]int)
	for i, be := range ds.Backends {
		ds.groups[be] = append(ds.groups[be], i)
	}

	ds.backends = make([]string, 0, len(ds.groups))
	for be := range ds.groups {
		ds.backends = append(ds.backends, be)
	}
	sort.Strings(ds.backends)
}

// BackendNames returns the distinct backend tags in sorted order.
func (ds *Dataset) BackendNames() []string {
	return ds.backends
}

// Group returns the observation indices for a backend tag.
func (ds *Dataset) Group(backend string) []int {
	return ds.groups[backend]
}

// Epochs partitions each backend's observations into groups of TOAs closer
// together than dt seconds. This is the precomputed grouping used for
// epoch-correlated (ECORR) noise; only epochs with at least two observations
// are returned since a singleton carries no correlated term.
func (ds *Dataset) Epochs(dt float64) (epochs [][]int, epochBackend []string) {
	for _, be := range ds.backends {
		idx := ds.groups[be]

		start := 0
		for i := 1; i <= len(idx); i++ {
			if i == len(idx) || ds.TOAs[idx[i]]-ds.TOAs[idx[i-1]] > dt {
				if i-start >= 2 {
					ep := make([]int, i-start)
					copy(ep, idx[start:i])
					epochs = append(epochs, ep)
					epochBackend = append(epochBackend, be)
				}
				start = i
			}
		}
	}
	return epochs, epochBackend
}
