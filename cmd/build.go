package cmd

import (
	"github.com/pkg/errors"

	"github.com/jwmeyers/ptmc/model"
)

// buildPTA composes the likelihood engine from the flags: one pulsar model
// per dataset file, all sharing one parameter registry. Constant parameters
// are filled from the noise dictionary before the engine is handed back, so
// every configuration error surfaces here, before sampling begins.
func buildPTA(sp *startupParams) (*model.PTA, error) {
	if len(sp.dataFiles) < 1 {
		return nil, errors.New("At least one dataset file is required")
	}

	ps := model.NewParamSet()
	pulsars := make([]*model.PulsarModel, 0, len(sp.dataFiles))

	for _, fn := range sp.dataFiles {
		ds, err := model.NewDatasetFromFile(fn)
		if err != nil {
			return nil, err
		}
		if sp.verbose {
			sp.out.Printf("Loaded %s: %d TOAs, %d backends\n", ds.Name, ds.Len(), len(ds.BackendNames()))
		}

		mn, err := model.NewMeasurementNoise(ds, ps, sp.fixedWhite)
		if err != nil {
			return nil, err
		}
		white := []model.WhiteSignal{mn}

		var bases []model.BasisSignal
		if len(ds.Design) > 0 {
			tm, err := model.NewTimingModel(ds)
			if err != nil {
				return nil, err
			}
			bases = append(bases, tm)
		}
		if sp.ecorr {
			ec, err := model.NewEcorrSignal(ds, ps, model.DefaultEpochWindow, sp.fixedWhite)
			if err != nil {
				return nil, err
			}
			bases = append(bases, ec)
		}
		if sp.redNoise {
			fb, err := model.NewFourierBasis(ds, ps, sp.nfreq)
			if err != nil {
				return nil, err
			}
			bases = append(bases, fb)
		}
		if sp.precession {
			pr, err := model.NewPrecessionSignal(ds, ps, 0)
			if err != nil {
				return nil, err
			}
			bases = append(bases, pr)
		}

		pm, err := model.NewPulsarModel(ds, white, bases)
		if err != nil {
			return nil, err
		}
		pulsars = append(pulsars, pm)
	}

	pta, err := model.NewPTA(pulsars, ps)
	if err != nil {
		return nil, err
	}

	consts := ps.Constants()
	if len(consts) > 0 {
		if len(sp.noiseFile) < 1 {
			return nil, errors.Errorf("Model has %d constant parameters but no noise dictionary was given", len(consts))
		}
		nd, err := model.NewNoiseDictFromFile(sp.noiseFile)
		if err != nil {
			return nil, err
		}
		if err := pta.SetDefaults(nd); err != nil {
			return nil, err
		}
	}

	return pta, nil
}
