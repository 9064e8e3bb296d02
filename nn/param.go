// MODUL: nn
// ZWECK: Trainierbare Parameter und Initialisierung auf Basis von gonum/mat
// INPUT: Parameter-Name, Form, *rand.Rand fuer die Initialisierung
// OUTPUT: Param mit Wert- und Gradienten-Matrix
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: gonum.org/v1/gonum/mat (extern), math/rand/v2
// HINWEISE: Alle Matrizen sind zusammenhaengend (Stride == Spalten), damit
//           elementweise Schleifen direkt auf RawMatrix().Data arbeiten koennen

package nn

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// ErrShape wird bei nicht passenden Matrix-Dimensionen zurueckgegeben
var ErrShape = errors.New("nn: dimensionen passen nicht")

// Param ist ein trainierbarer Tensor mit Gradient
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam erstellt einen mit Nullen gefuellten Parameter
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad setzt den Gradienten auf Null
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// uniform fuellt den Parameter gleichverteilt in [-bound, bound]
func (p *Param) uniform(rng *rand.Rand, bound float64) {
	data := raw(p.Value)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * bound
	}
}

// normal fuellt den Parameter mit N(0, 1)
func (p *Param) normal(rng *rand.Rand) {
	data := raw(p.Value)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
}

// raw gibt die Daten einer zusammenhaengenden Matrix zurueck
func raw(m *mat.Dense) []float64 {
	return m.RawMatrix().Data
}

// addRowVector addiert den Zeilenvektor b (1 x n) auf jede Zeile von m
func addRowVector(m *mat.Dense, b *mat.Dense) {
	rows, cols := m.Dims()
	data, bias := raw(m), raw(b)
	for r := range rows {
		row := data[r*cols : (r+1)*cols]
		for c := range row {
			row[c] += bias[c]
		}
	}
}

// accumulateColSums addiert die Spaltensummen von m auf den Zeilenvektor dst
func accumulateColSums(dst *mat.Dense, m *mat.Dense) {
	rows, cols := m.Dims()
	data, out := raw(m), raw(dst)
	for r := range rows {
		row := data[r*cols : (r+1)*cols]
		for c, v := range row {
			out[c] += v
		}
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
