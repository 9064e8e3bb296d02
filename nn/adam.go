package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam ist der Adam-Optimierer mit Bias-Korrektur
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	params []*Param
	m, v   map[string]*mat.Dense
	step   int
}

// AdamState ist der serialisierbare Zustand des Optimierers
type AdamState struct {
	Step int
	M    map[string]*mat.Dense
	V    map[string]*mat.Dense
}

// NewAdam erstellt einen Optimierer fuer params mit Standard-Betas
func NewAdam(params []*Param, lr float64) *Adam {
	a := &Adam{
		LR:     lr,
		Beta1:  0.9,
		Beta2:  0.999,
		Eps:    1e-8,
		params: params,
		m:      make(map[string]*mat.Dense, len(params)),
		v:      make(map[string]*mat.Dense, len(params)),
	}
	for _, p := range params {
		r, c := p.Value.Dims()
		a.m[p.Name] = mat.NewDense(r, c, nil)
		a.v[p.Name] = mat.NewDense(r, c, nil)
	}
	return a
}

// ZeroGrad setzt alle Gradienten auf Null
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Steps gibt die Anzahl ausgefuehrter Update-Schritte zurueck
func (a *Adam) Steps() int { return a.step }

// Step aktualisiert alle Parameter mit ihren akkumulierten Gradienten
func (a *Adam) Step() {
	a.step++
	c1 := 1 / (1 - math.Pow(a.Beta1, float64(a.step)))
	c2 := 1 / (1 - math.Pow(a.Beta2, float64(a.step)))

	for _, p := range a.params {
		pv, g := raw(p.Value), raw(p.Grad)
		m, v := raw(a.m[p.Name]), raw(a.v[p.Name])
		for i, gi := range g {
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*gi
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*gi*gi
			pv[i] -= a.LR * (m[i] * c1) / (math.Sqrt(v[i]*c2) + a.Eps)
		}
	}
}

// State gibt eine Kopie des Optimierer-Zustands zurueck
func (a *Adam) State() AdamState {
	s := AdamState{
		Step: a.step,
		M:    make(map[string]*mat.Dense, len(a.m)),
		V:    make(map[string]*mat.Dense, len(a.v)),
	}
	for name, m := range a.m {
		s.M[name] = mat.DenseCopyOf(m)
	}
	for name, v := range a.v {
		s.V[name] = mat.DenseCopyOf(v)
	}
	return s
}

// LoadState uebernimmt einen gespeicherten Zustand; jeder Parameter muss
// mit passender Form vorhanden sein
func (a *Adam) LoadState(s AdamState) error {
	for _, p := range a.params {
		r, c := p.Value.Dims()
		for _, src := range []map[string]*mat.Dense{s.M, s.V} {
			m, ok := src[p.Name]
			if !ok {
				return fmt.Errorf("nn: optimizer-zustand fuer %s fehlt", p.Name)
			}
			if mr, mc := m.Dims(); mr != r || mc != c {
				return fmt.Errorf("%w: optimizer-zustand %s ist %dx%d, erwartet %dx%d", ErrShape, p.Name, mr, mc, r, c)
			}
		}
	}

	for _, p := range a.params {
		a.m[p.Name].Copy(s.M[p.Name])
		a.v[p.Name].Copy(s.V[p.Name])
	}
	a.step = s.Step
	return nil
}
