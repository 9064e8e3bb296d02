package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Linear ist eine affine Abbildung y = x W^T + b
type Linear struct {
	W *Param // (out, in)
	B *Param // (1, out)
}

// NewLinear erstellt eine Linear-Schicht, initialisiert mit U(-1/sqrt(in), 1/sqrt(in))
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		W: NewParam(name+".weight", out, in),
		B: NewParam(name+".bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	l.W.uniform(rng, bound)
	l.B.uniform(rng, bound)
	return l
}

// Forward berechnet (B, in) -> (B, out)
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	batch, _ := x.Dims()
	out, _ := l.W.Value.Dims()

	y := mat.NewDense(batch, out, nil)
	y.Mul(x, l.W.Value.T())
	addRowVector(y, l.B.Value)
	return y
}

// Backward akkumuliert die Gradienten fuer x und dy und gibt dx zurueck
func (l *Linear) Backward(x, dy *mat.Dense) *mat.Dense {
	var dW mat.Dense
	dW.Mul(dy.T(), x)
	l.W.Grad.Add(l.W.Grad, &dW)
	accumulateColSums(l.B.Grad, dy)

	batch, _ := x.Dims()
	_, in := l.W.Value.Dims()
	dx := mat.NewDense(batch, in, nil)
	dx.Mul(dy, l.W.Value)
	return dx
}

func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}

// Embedding bildet Token-IDs auf Zeilen einer (vocab, dim) Matrix ab
type Embedding struct {
	W *Param
}

// NewEmbedding erstellt eine Embedding-Tabelle, initialisiert mit N(0, 1)
func NewEmbedding(name string, vocab, dim int, rng *rand.Rand) *Embedding {
	e := &Embedding{W: NewParam(name+".weight", vocab, dim)}
	e.W.normal(rng)
	return e
}

// Size gibt die Anzahl der Zeilen (Vokabulargroesse) zurueck
func (e *Embedding) Size() int {
	rows, _ := e.W.Value.Dims()
	return rows
}

// Dim gibt die Embedding-Dimension zurueck
func (e *Embedding) Dim() int {
	_, dim := e.W.Value.Dims()
	return dim
}

// Lookup gibt die Embeddings fuer ids als (len(ids), dim) zurueck
func (e *Embedding) Lookup(ids []int) *mat.Dense {
	dim := e.Dim()
	out := mat.NewDense(len(ids), dim, nil)
	data, table := raw(out), raw(e.W.Value)
	for b, id := range ids {
		copy(data[b*dim:(b+1)*dim], table[id*dim:(id+1)*dim])
	}
	return out
}

// Backward akkumuliert dy zeilenweise auf die Gradienten der ids
func (e *Embedding) Backward(ids []int, dy *mat.Dense) {
	dim := e.Dim()
	grad, d := raw(e.W.Grad), raw(dy)
	for b, id := range ids {
		row := grad[id*dim : (id+1)*dim]
		for j := range row {
			row[j] += d[b*dim+j]
		}
	}
}

func (e *Embedding) Params() []*Param {
	return []*Param{e.W}
}
