// MODUL: recurrent
// ZWECK: Mehrschichtige LSTM- und tanh-RNN-Zellen mit Backpropagation through time
// INPUT: Eingaben je Zeitschritt (B, in), RecurrentState
// OUTPUT: Hidden-Ausgaben der obersten Schicht je Zeitschritt, neuer State
// NEBENEFFEKTE: Backward akkumuliert Gradienten in den Parametern
// ABHAENGIGKEITEN: gonum.org/v1/gonum/mat (extern)
// HINWEISE: Gate-Reihenfolge i, f, g, o und Parameternamen weight_ih_l<k> usw.
//           wie bei PyTorch; Step und Forward teilen sich denselben Schichtschritt

package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Kind waehlt den Zelltyp
type Kind string

const (
	LSTM Kind = "LSTM"
	RNN  Kind = "RNN"
)

// gates gibt die Anzahl der Gate-Bloecke des Zelltyps zurueck
func (k Kind) gates() int {
	if k == LSTM {
		return 4
	}
	return 1
}

// State ist der versteckte Zustand je Schicht, jeweils (B, hidden).
// C ist nur bei LSTM belegt.
type State struct {
	H []*mat.Dense
	C []*mat.Dense
}

// Batch gibt die Batch-Groesse des Zustands zurueck
func (s *State) Batch() int {
	b, _ := s.H[0].Dims()
	return b
}

type layer struct {
	Wih, Whh, Bih, Bhh *Param
}

// Recurrent ist ein Stapel rekurrenter Schichten
type Recurrent struct {
	Kind   Kind
	Input  int
	Hidden int
	layers []*layer
}

// NewRecurrent erstellt einen Stapel aus numLayers Schichten
func NewRecurrent(kind Kind, name string, input, hidden, numLayers int, rng *rand.Rand) (*Recurrent, error) {
	if kind != LSTM && kind != RNN {
		return nil, fmt.Errorf("nn: unbekannter zelltyp %q", kind)
	}
	if input <= 0 || hidden <= 0 || numLayers <= 0 {
		return nil, fmt.Errorf("%w: input=%d hidden=%d layers=%d", ErrShape, input, hidden, numLayers)
	}

	r := &Recurrent{Kind: kind, Input: input, Hidden: hidden}
	g := kind.gates() * hidden
	bound := 1 / math.Sqrt(float64(hidden))

	for k := range numLayers {
		in := input
		if k > 0 {
			in = hidden
		}
		l := &layer{
			Wih: NewParam(fmt.Sprintf("%s.weight_ih_l%d", name, k), g, in),
			Whh: NewParam(fmt.Sprintf("%s.weight_hh_l%d", name, k), g, hidden),
			Bih: NewParam(fmt.Sprintf("%s.bias_ih_l%d", name, k), 1, g),
			Bhh: NewParam(fmt.Sprintf("%s.bias_hh_l%d", name, k), 1, g),
		}
		for _, p := range l.params() {
			p.uniform(rng, bound)
		}
		r.layers = append(r.layers, l)
	}

	return r, nil
}

func (l *layer) params() []*Param {
	return []*Param{l.Wih, l.Whh, l.Bih, l.Bhh}
}

func (r *Recurrent) Params() []*Param {
	var ps []*Param
	for _, l := range r.layers {
		ps = append(ps, l.params()...)
	}
	return ps
}

// ZeroState gibt einen Null-Zustand fuer batch Beispiele zurueck
func (r *Recurrent) ZeroState(batch int) *State {
	s := &State{}
	for range r.layers {
		s.H = append(s.H, mat.NewDense(batch, r.Hidden, nil))
		if r.Kind == LSTM {
			s.C = append(s.C, mat.NewDense(batch, r.Hidden, nil))
		}
	}
	return s
}

// ============================================================================
// Vorwaertsschritt
// ============================================================================

// cache haelt die Zwischenwerte eines Schichtschritts fuer Backward
type cache struct {
	x, hPrev, cPrev *mat.Dense
	act             *mat.Dense // LSTM: [i f g o], RNN: h
	tc              *mat.Dense // tanh(c), nur LSTM
}

// Tape zeichnet alle Schichtschritte einer Sequenz auf, [t][layer]
type Tape struct {
	steps [][]cache
}

// Len gibt die Anzahl aufgezeichneter Zeitschritte zurueck
func (t *Tape) Len() int { return len(t.steps) }

// Step fuehrt einen Zeitschritt ohne Aufzeichnung aus
func (r *Recurrent) Step(x *mat.Dense, s *State) (*mat.Dense, *State) {
	return r.step(x, s, nil)
}

// Forward fuehrt alle Zeitschritte aus und zeichnet sie fuer Backward auf
func (r *Recurrent) Forward(xs []*mat.Dense, s *State) ([]*mat.Dense, *State, *Tape) {
	tape := &Tape{steps: make([][]cache, 0, len(xs))}
	hs := make([]*mat.Dense, len(xs))
	for t, x := range xs {
		rec := make([]cache, len(r.layers))
		hs[t], s = r.step(x, s, rec)
		tape.steps = append(tape.steps, rec)
	}
	return hs, s, tape
}

// step ist der gemeinsame Zustandsuebergang aller Schichten
func (r *Recurrent) step(x *mat.Dense, s *State, rec []cache) (*mat.Dense, *State) {
	next := &State{H: make([]*mat.Dense, len(r.layers))}
	if r.Kind == LSTM {
		next.C = make([]*mat.Dense, len(r.layers))
	}

	in := x
	for k, l := range r.layers {
		z := l.preact(in, s.H[k])
		c := cache{x: in, hPrev: s.H[k]}

		switch r.Kind {
		case LSTM:
			c.cPrev = s.C[k]
			next.H[k], next.C[k], c.act, c.tc = lstmCell(z, s.C[k], r.Hidden)
		case RNN:
			h := z
			data := raw(h)
			for i, v := range data {
				data[i] = math.Tanh(v)
			}
			next.H[k], c.act = h, h
		}

		if rec != nil {
			rec[k] = c
		}
		in = next.H[k]
	}

	return in, next
}

// preact berechnet x W_ih^T + h W_hh^T + b_ih + b_hh
func (l *layer) preact(x, h *mat.Dense) *mat.Dense {
	batch, _ := x.Dims()
	g, _ := l.Wih.Value.Dims()

	z := mat.NewDense(batch, g, nil)
	z.Mul(x, l.Wih.Value.T())

	var hh mat.Dense
	hh.Mul(h, l.Whh.Value.T())
	z.Add(z, &hh)

	addRowVector(z, l.Bih.Value)
	addRowVector(z, l.Bhh.Value)
	return z
}

// lstmCell wendet die Gate-Nichtlinearitaeten auf z an (in-place) und
// gibt h, c, die Aktivierungen und tanh(c) zurueck
func lstmCell(z, cPrev *mat.Dense, hidden int) (h, c, act, tc *mat.Dense) {
	batch, _ := z.Dims()
	h = mat.NewDense(batch, hidden, nil)
	c = mat.NewDense(batch, hidden, nil)
	tc = mat.NewDense(batch, hidden, nil)

	a, hd, cd, td, cp := raw(z), raw(h), raw(c), raw(tc), raw(cPrev)
	for b := range batch {
		row := a[b*4*hidden : (b+1)*4*hidden]
		for j := range hidden {
			i := sigmoid(row[j])
			f := sigmoid(row[hidden+j])
			g := math.Tanh(row[2*hidden+j])
			o := sigmoid(row[3*hidden+j])
			row[j], row[hidden+j], row[2*hidden+j], row[3*hidden+j] = i, f, g, o

			idx := b*hidden + j
			cd[idx] = f*cp[idx] + i*g
			td[idx] = math.Tanh(cd[idx])
			hd[idx] = o * td[idx]
		}
	}
	return h, c, z, tc
}

// ============================================================================
// Backpropagation through time
// ============================================================================

// Backward propagiert dhs (Gradient der obersten Hidden-Ausgabe je Zeitschritt,
// nil = 0) durch die aufgezeichnete Sequenz und gibt dx je Zeitschritt zurueck.
// Der Gradient des Anfangszustands wird verworfen.
func (r *Recurrent) Backward(tape *Tape, dhs []*mat.Dense) ([]*mat.Dense, error) {
	if len(dhs) != tape.Len() {
		return nil, fmt.Errorf("%w: %d gradienten fuer %d schritte", ErrShape, len(dhs), tape.Len())
	}

	n := len(r.layers)
	dhNext := make([]*mat.Dense, n)
	dcNext := make([]*mat.Dense, n)
	dxs := make([]*mat.Dense, tape.Len())

	for t := tape.Len() - 1; t >= 0; t-- {
		dIn := dhs[t]
		for k := n - 1; k >= 0; k-- {
			c := tape.steps[t][k]
			batch, _ := c.hPrev.Dims()

			dh := mat.NewDense(batch, r.Hidden, nil)
			if dIn != nil {
				dh.Add(dh, dIn)
			}
			if dhNext[k] != nil {
				dh.Add(dh, dhNext[k])
			}

			var dz *mat.Dense
			switch r.Kind {
			case LSTM:
				dz, dcNext[k] = lstmBackward(c, dh, dcNext[k], r.Hidden)
			case RNN:
				dz = mat.NewDense(batch, r.Hidden, nil)
				d, hd, hv := raw(dz), raw(dh), raw(c.act)
				for i := range d {
					d[i] = hd[i] * (1 - hv[i]*hv[i])
				}
			}

			dIn, dhNext[k] = r.layers[k].backward(c, dz)
		}
		dxs[t] = dIn
	}

	return dxs, nil
}

// lstmBackward berechnet den Gate-Gradienten dz (B, 4H) und dc_{t-1}
func lstmBackward(c cache, dh, dc *mat.Dense, hidden int) (dz, dcPrev *mat.Dense) {
	batch, _ := dh.Dims()
	dz = mat.NewDense(batch, 4*hidden, nil)
	dcPrev = mat.NewDense(batch, hidden, nil)

	a, td, cp := raw(c.act), raw(c.tc), raw(c.cPrev)
	dhd, dzd, dcp := raw(dh), raw(dz), raw(dcPrev)
	var dcd []float64
	if dc != nil {
		dcd = raw(dc)
	}

	for b := range batch {
		row := a[b*4*hidden : (b+1)*4*hidden]
		drow := dzd[b*4*hidden : (b+1)*4*hidden]
		for j := range hidden {
			i, f, g, o := row[j], row[hidden+j], row[2*hidden+j], row[3*hidden+j]
			idx := b*hidden + j
			tcv := td[idx]

			dct := dhd[idx] * o * (1 - tcv*tcv)
			if dcd != nil {
				dct += dcd[idx]
			}
			do := dhd[idx] * tcv
			di := dct * g
			dg := dct * i
			df := dct * cp[idx]
			dcp[idx] = dct * f

			drow[j] = di * i * (1 - i)
			drow[hidden+j] = df * f * (1 - f)
			drow[2*hidden+j] = dg * (1 - g*g)
			drow[3*hidden+j] = do * o * (1 - o)
		}
	}
	return dz, dcPrev
}

// backward akkumuliert die Parameter-Gradienten und gibt dx und dh_{t-1} zurueck
func (l *layer) backward(c cache, dz *mat.Dense) (dx, dhPrev *mat.Dense) {
	var dW mat.Dense
	dW.Mul(dz.T(), c.x)
	l.Wih.Grad.Add(l.Wih.Grad, &dW)

	var dU mat.Dense
	dU.Mul(dz.T(), c.hPrev)
	l.Whh.Grad.Add(l.Whh.Grad, &dU)

	accumulateColSums(l.Bih.Grad, dz)
	accumulateColSums(l.Bhh.Grad, dz)

	batch, _ := dz.Dims()
	_, in := l.Wih.Value.Dims()
	_, hidden := l.Whh.Value.Dims()

	dx = mat.NewDense(batch, in, nil)
	dx.Mul(dz, l.Wih.Value)
	dhPrev = mat.NewDense(batch, hidden, nil)
	dhPrev.Mul(dz, l.Whh.Value)
	return dx, dhPrev
}
