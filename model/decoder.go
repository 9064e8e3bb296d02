// MODUL: decoder
// ZWECK: Rekurrenter Sequenz-Decoder mit Teacher-Forcing-Scoring und
//        batchweiser autoregressiver Generierung mit Abbruch je Beispiel
// INPUT: Bild-Embeddings (B, E), gepaddete Captions (B, L) bzw. Sampler
// OUTPUT: Logits je Position (L x (B, V)) bzw. Token-ID-Sequenzen je Beispiel
// NEBENEFFEKTE: Backward akkumuliert Gradienten in Embed, RNN und Out
// ABHAENGIGKEITEN: nn, sample, vocab, gonum.org/v1/gonum/mat (extern)
// HINWEISE: Position 0 erhaelt das Bild-Embedding, Position t>0 das Embedding
//           von captions[:, t-1]; die Logits an Position t werden gegen
//           captions[:, t] bewertet (Position 0 sagt also das Start-Token vorher)

package model

import (
	"errors"
	"fmt"

	"github.com/7blacky7/captioner/nn"
	"github.com/7blacky7/captioner/sample"
	"github.com/7blacky7/captioner/vocab"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmptyBatch = errors.New("model: leerer batch")
	ErrNoGrad     = errors.New("model: forward ohne aufzeichnung, kein backward moeglich")
)

// Decoder ist der rekurrente Sequenz-Decoder
type Decoder struct {
	Embed *nn.Embedding
	RNN   *nn.Recurrent
	Out   *nn.Linear

	vocab *vocab.Vocabulary
}

// Scores sind die Teacher-Forcing-Logits einer Caption-Batch
type Scores struct {
	// Logits[t] ist (B, V)
	Logits []*mat.Dense

	tape *scoreTape
}

// scoreTape haelt alles, was Backward fuer einen Scoring-Durchlauf braucht
type scoreTape struct {
	inputs [][]int // inputs[t-1] = captions[:, t-1] fuer t >= 1
	hs     []*mat.Dense
	rnn    *nn.Tape
}

// At gibt den Logit fuer Beispiel b, Token v und Position t zurueck (Layout B, V, L)
func (s *Scores) At(b, v, t int) float64 {
	return s.Logits[t].At(b, v)
}

// Len gibt die Sequenzlaenge L zurueck
func (s *Scores) Len() int { return len(s.Logits) }

func (d *Decoder) Params() []*nn.Param {
	ps := d.Embed.Params()
	ps = append(ps, d.RNN.Params()...)
	return append(ps, d.Out.Params()...)
}

// ============================================================================
// Teacher-Forcing
// ============================================================================

// Score bewertet captions unter Teacher-Forcing. Mit track werden die
// Zwischenwerte fuer Backward aufgezeichnet.
func (d *Decoder) Score(features *mat.Dense, captions [][]int, track bool) (*Scores, error) {
	batch, _ := features.Dims()
	if batch == 0 || len(captions) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(captions) != batch {
		return nil, fmt.Errorf("%w: %d captions fuer %d bilder", nn.ErrShape, len(captions), batch)
	}

	steps, size := len(captions[0]), d.Embed.Size()
	for b, c := range captions {
		if len(c) != steps {
			return nil, fmt.Errorf("%w: caption %d hat laenge %d, erwartet %d", nn.ErrShape, b, len(c), steps)
		}
		for t, id := range c {
			if id < 0 || id >= size {
				return nil, fmt.Errorf("%w: caption %d position %d: id %d ausserhalb [0,%d)", nn.ErrShape, b, t, id, size)
			}
		}
	}
	if steps == 0 {
		return nil, fmt.Errorf("%w: captions der laenge 0", nn.ErrShape)
	}

	xs := make([]*mat.Dense, steps)
	xs[0] = features
	inputs := make([][]int, 0, steps-1)
	for t := 1; t < steps; t++ {
		ids := column(captions, t-1)
		inputs = append(inputs, ids)
		xs[t] = d.Embed.Lookup(ids)
	}

	var (
		hs   []*mat.Dense
		tape *nn.Tape
	)
	state := d.RNN.ZeroState(batch)
	if track {
		hs, _, tape = d.RNN.Forward(xs, state)
	} else {
		hs = make([]*mat.Dense, steps)
		for t, x := range xs {
			hs[t], state = d.RNN.Step(x, state)
		}
	}

	s := &Scores{Logits: make([]*mat.Dense, steps)}
	for t, h := range hs {
		s.Logits[t] = d.Out.Forward(h)
	}
	if track {
		s.tape = &scoreTape{inputs: inputs, hs: hs, rnn: tape}
	}
	return s, nil
}

// Backward propagiert dLogits durch den Decoder und gibt den Gradienten
// nach den Bild-Embeddings (B, E) zurueck
func (d *Decoder) Backward(s *Scores, dLogits []*mat.Dense) (*mat.Dense, error) {
	if s.tape == nil {
		return nil, ErrNoGrad
	}
	if len(dLogits) != len(s.Logits) {
		return nil, fmt.Errorf("%w: %d gradienten fuer %d positionen", nn.ErrShape, len(dLogits), len(s.Logits))
	}

	dhs := make([]*mat.Dense, len(dLogits))
	for t, dl := range dLogits {
		dhs[t] = d.Out.Backward(s.tape.hs[t], dl)
	}

	dxs, err := d.RNN.Backward(s.tape.rnn, dhs)
	if err != nil {
		return nil, err
	}

	for t := 1; t < len(dxs); t++ {
		d.Embed.Backward(s.tape.inputs[t-1], dxs[t])
	}
	return dxs[0], nil
}

// ============================================================================
// Autoregressive Generierung
// ============================================================================

// GenerateIDs erzeugt fuer jedes Bild eine Token-Folge. Alle Beispiele laufen
// im Gleichschritt; ein Beispiel gilt nach seinem End-Token als fertig und
// seine weiteren Tokens werden verworfen. Die Schleife endet wenn
// step > maxLength oder alle Beispiele fertig sind. Start-, End- und
// Pad-Tokens werden entfernt, jede Folge hat hoechstens maxLength Tokens.
func (d *Decoder) GenerateIDs(features *mat.Dense, maxLength int, s sample.Sampler) ([][]int, error) {
	batch, _ := features.Dims()
	if batch == 0 {
		return nil, ErrEmptyBatch
	}
	if maxLength <= 0 {
		return nil, fmt.Errorf("model: max_length %d <= 0", maxLength)
	}

	raw := make([][]int, batch)
	for b := range raw {
		raw[b] = make([]int, maxLength+1)
		for i := range raw[b] {
			raw[b][i] = d.vocab.Pad()
		}
		raw[b][0] = d.vocab.Start()
	}

	active := make([]bool, batch)
	for b := range active {
		active[b] = true
	}
	completed := 0

	state := d.RNN.ZeroState(batch)
	x := features
	for step := 0; step <= maxLength && completed < batch; step++ {
		var h *mat.Dense
		h, state = d.RNN.Step(x, state)

		ids, err := sample.SelectBatch(s, d.Out.Forward(h))
		if err != nil {
			return nil, err
		}

		for b, id := range ids {
			if !active[b] {
				continue
			}
			raw[b][step] = id
			if id == d.vocab.End() {
				active[b] = false
				completed++
			}
		}

		// fertige Beispiele laufen mit ihrem letzten Token weiter
		x = d.Embed.Lookup(ids)
	}

	out := make([][]int, batch)
	for b, seq := range raw {
		out[b] = make([]int, 0, maxLength)
		for _, id := range seq {
			if d.vocab.IsSpecial(id) {
				continue
			}
			if len(out[b]) == maxLength {
				break
			}
			out[b] = append(out[b], id)
		}
	}
	return out, nil
}

// column gibt captions[:, t] zurueck
func column(captions [][]int, t int) []int {
	ids := make([]int, len(captions))
	for b, c := range captions {
		ids[b] = c[t]
	}
	return ids
}
