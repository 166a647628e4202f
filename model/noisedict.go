package model

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// NoiseDict is a flat mapping from "<pulsar>_<backend>_<quantity>" keys to
// previously measured constant noise values.
type NoiseDict map[string]float64

// NewNoiseDictFromFile reads a noise dictionary in JSON form.
func NewNoiseDictFromFile(filename string) (NoiseDict, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ noise dictionary from %s", filename)
	}

	nd := NoiseDict{}
	if err := json.Unmarshal(data, &nd); err != nil {
		return nil, errors.Wrap(err, "Could not PARSE noise dictionary")
	}

	return nd, nil
}

// Lookup returns the value for a required key. A missing key is a fatal
// startup error for the caller.
func (nd NoiseDict) Lookup(key string) (float64, error) {
	v, ok := nd[key]
	if !ok {
		return 0, errors.Errorf("Noise dictionary has no entry for required key %s", key)
	}
	return v, nil
}
