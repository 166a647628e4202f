package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const log2Pi = 1.8378770664093453

// PulsarModel binds one dataset to the additive union of its signals. White
// signals add into a diagonal residual covariance N; basis signals
// concatenate into a stacked basis T and a block-diagonal (here diagonal)
// coefficient prior phi. The model is r = T c + white noise with
// c ~ Normal(0, phi), and the marginal likelihood integrates c out.
//
// A PulsarModel is built once at composition time and read-only during
// sampling, so evaluations for different pulsars may run concurrently.
type PulsarModel struct {
	DS    *Dataset
	White []WhiteSignal
	Bases []BasisSignal

	mTot int
}

// NewPulsarModel composes a pulsar's signals. Shape problems here are fatal
// configuration errors.
func NewPulsarModel(ds *Dataset, white []WhiteSignal, bases []BasisSignal) (*PulsarModel, error) {
	if ds == nil {
		return nil, errors.New("No dataset supplied")
	}

	mTot := 0
	for _, b := range bases {
		if b.Cols() < 1 {
			return nil, errors.Errorf("Basis signal %s has no columns", b.Name())
		}
		mTot += b.Cols()
	}

	return &PulsarModel{
		DS:    ds,
		White: white,
		Bases: bases,
		mTot:  mTot,
	}, nil
}

// BasisCols is the total stacked basis width, fixed for the model lifetime.
func (pm *PulsarModel) BasisCols() int {
	return pm.mTot
}

// nvec assembles the diagonal white-noise covariance. With no white signals
// attached the raw TOA uncertainties are used as-is.
func (pm *PulsarModel) nvec(v Vals) ([]float64, error) {
	n := pm.DS.Len()
	nvec := make([]float64, n)

	if len(pm.White) == 0 {
		for i, e := range pm.DS.Errs {
			nvec[i] = e * e
		}
		return nvec, nil
	}

	for _, w := range pm.White {
		c, err := w.NVec(v)
		if err != nil {
			return nil, errors.Wrapf(err, "White signal %s failed", w.Name())
		}
		if len(c) != n {
			return nil, errors.Errorf("White signal %s produced %d entries for %d observations", w.Name(), len(c), n)
		}
		for i, x := range c {
			nvec[i] += x
		}
	}

	return nvec, nil
}

// LogLikelihood evaluates the marginal log-likelihood at the given parameter
// values via the Woodbury identity, never forming the dense n x n
// covariance. Numerical degeneracy (non-positive N entries, a
// non-positive-definite inner matrix) yields -Inf; an error return means the
// model itself is misconfigured.
func (pm *PulsarModel) LogLikelihood(v Vals) (float64, error) {
	n := pm.DS.Len()
	r := pm.DS.Residuals

	nvec, err := pm.nvec(v)
	if err != nil {
		return 0, err
	}

	var rNr, logdetN float64
	for i, nv := range nvec {
		if nv <= 0 || math.IsNaN(nv) {
			return math.Inf(-1), nil
		}
		rNr += r[i] * r[i] / nv
		logdetN += math.Log(nv)
	}

	if pm.mTot == 0 {
		return -0.5 * (rNr + logdetN + float64(n)*log2Pi), nil
	}

	// Gather per-signal bases and keep only columns with usable prior
	// variance: phi <= 0 (underflowed or disabled) drops the column, while
	// phi == +Inf keeps the column with zero inverse-prior contribution.
	type bcol struct {
		b   *mat.Dense
		col int
		phi float64
	}
	cols := make([]bcol, 0, pm.mTot)

	for _, bs := range pm.Bases {
		b, phi, err := bs.Basis(v)
		if err != nil {
			return 0, errors.Wrapf(err, "Basis signal %s failed", bs.Name())
		}

		br, bc := b.Dims()
		if br != n || bc != bs.Cols() || len(phi) != bc {
			return 0, errors.Errorf("Basis signal %s produced shape (%d, %d) with %d prior entries", bs.Name(), br, bc, len(phi))
		}

		for j := 0; j < bc; j++ {
			if math.IsNaN(phi[j]) || phi[j] <= 0 {
				continue
			}
			cols = append(cols, bcol{b: b, col: j, phi: phi[j]})
		}
	}

	m := len(cols)
	if m == 0 {
		return -0.5 * (rNr + logdetN + float64(n)*log2Pi), nil
	}

	// T is the stacked kept-column basis; Tn is T with rows scaled by 1/N.
	t := mat.NewDense(n, m, nil)
	tn := mat.NewDense(n, m, nil)
	var logdetPhi float64
	phiInv := make([]float64, m)
	for k, c := range cols {
		for i := 0; i < n; i++ {
			x := c.b.At(i, c.col)
			t.Set(i, k, x)
			tn.Set(i, k, x/nvec[i])
		}
		if math.IsInf(c.phi, 1) {
			phiInv[k] = 0.0
		} else {
			phiInv[k] = 1.0 / c.phi
			logdetPhi += math.Log(c.phi)
		}
	}

	// Inner matrix Sigma = phi^-1 + T^t N^-1 T
	var inner mat.Dense
	inner.Mul(t.T(), tn)

	sigma := mat.NewSymDense(m, nil)
	for j := 0; j < m; j++ {
		for k := j; k < m; k++ {
			x := 0.5 * (inner.At(j, k) + inner.At(k, j))
			if j == k {
				x += phiInv[j]
			}
			sigma.SetSym(j, k, x)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sigma); !ok {
		return math.Inf(-1), nil
	}

	// d = T^t N^-1 r, then the Woodbury correction d^t Sigma^-1 d
	rv := mat.NewVecDense(n, r)
	var d mat.VecDense
	d.MulVec(tn.T(), rv)

	var sol mat.VecDense
	if err := chol.SolveVecTo(&sol, &d); err != nil {
		return math.Inf(-1), nil
	}
	dSd := mat.Dot(&d, &sol)

	ll := -0.5 * (rNr - dSd + logdetN + logdetPhi + chol.LogDet() + float64(n)*log2Pi)
	if math.IsNaN(ll) {
		return math.Inf(-1), nil
	}
	return ll, nil
}
