package model

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/captioner/config"
	"github.com/7blacky7/captioner/nn"
	"github.com/7blacky7/captioner/vision"
	"github.com/7blacky7/captioner/vocab"
)

const testImageSize = 8

func newTestModel(t *testing.T, kind string, words []string) *CaptionModel {
	t.Helper()

	backbone, err := vision.NewPoolBackbone(vision.Options{ImageSize: testImageSize, GridSize: 2})
	if err != nil {
		t.Fatal(err)
	}

	m, err := New(config.Model{
		HiddenSize:    6,
		EmbeddingSize: 5,
		NumLayers:     2,
		ModelType:     kind,
	}, vocab.Build(words), backbone, rand.New(rand.NewPCG(11, 12)))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func randomImages(rng *rand.Rand, n int) [][]float32 {
	images := make([][]float32, n)
	for i := range images {
		images[i] = make([]float32, 3*testImageSize*testImageSize)
		for j := range images[i] {
			images[i][j] = float32(rng.NormFloat64())
		}
	}
	return images
}

func TestScoreShape(t *testing.T) {
	m := newTestModel(t, "LSTM", []string{"a", "dog", "runs"})
	v := m.Vocab
	images := randomImages(rand.New(rand.NewPCG(1, 1)), 2)
	captions := [][]int{
		v.Encode([]string{"a", "dog", "runs"}),
		append(v.Encode([]string{"a", "dog"}), v.Pad()),
	}

	m.Eval()
	f, err := m.Forward(images, captions)
	if err != nil {
		t.Fatal(err)
	}
	if f.Scores.Len() != 5 {
		t.Fatalf("Len() = %d, erwartet 5", f.Scores.Len())
	}
	for i, lg := range f.Logits() {
		if r, c := lg.Dims(); r != 2 || c != v.Size() {
			t.Errorf("Logits[%d] ist %dx%d, erwartet 2x%d", i, r, c, v.Size())
		}
	}
	if err := m.Backward(f, f.Logits()); err != ErrNoGrad {
		t.Errorf("Backward() im Eval-Modus = %v, erwartet %v", err, ErrNoGrad)
	}

	m.Train()
	tracked, err := m.Forward(images, captions)
	if err != nil {
		t.Fatal(err)
	}
	for i := range f.Logits() {
		if !mat.EqualApprox(f.Logits()[i], tracked.Logits()[i], 1e-12) {
			t.Errorf("Logits[%d] unterscheiden sich zwischen Train und Eval", i)
		}
	}
	if got, want := tracked.Scores.At(1, 3, 2), tracked.Logits()[2].At(1, 3); got != want {
		t.Errorf("At() = %v, erwartet %v", got, want)
	}

	if _, err := m.Forward(images, [][]int{{1, 2}, {1}}); err == nil {
		t.Error("Erwartet Fehler bei ungleichen Caption-Laengen")
	}
}

func TestScoreRejectsUnknownIDs(t *testing.T) {
	m := newTestModel(t, "RNN", []string{"a", "dog"})
	v := m.Vocab
	images := randomImages(rand.New(rand.NewPCG(2, 2)), 1)

	for _, id := range []int{v.Size(), 999, -1} {
		m.Train()
		_, err := m.Forward(images, [][]int{{v.Start(), id, v.End()}})
		if !errors.Is(err, nn.ErrShape) {
			t.Errorf("Forward() mit id %d = %v, erwartet %v", id, err, nn.ErrShape)
		}
	}
}

func TestBackwardMatchesNumericGradient(t *testing.T) {
	for _, kind := range []string{"LSTM", "RNN"} {
		t.Run(kind, func(t *testing.T) {
			m := newTestModel(t, kind, []string{"a", "b"})
			v := m.Vocab
			images := randomImages(rand.New(rand.NewPCG(2, 3)), 2)
			captions := [][]int{v.Encode([]string{"a", "b"}), v.Encode([]string{"b", "b"})}

			loss := func() float64 {
				f, err := m.Forward(images, captions)
				if err != nil {
					t.Fatal(err)
				}
				l, _, err := nn.CrossEntropy(f.Logits(), captions)
				if err != nil {
					t.Fatal(err)
				}
				return l
			}

			f, err := m.Forward(images, captions)
			if err != nil {
				t.Fatal(err)
			}
			_, grads, err := nn.CrossEntropy(f.Logits(), captions)
			if err != nil {
				t.Fatal(err)
			}
			if err := m.Backward(f, grads); err != nil {
				t.Fatal(err)
			}

			const eps = 1e-5
			for _, p := range m.Params() {
				value, grad := p.Value.RawMatrix().Data, p.Grad.RawMatrix().Data
				for _, i := range []int{0, len(value) / 2, len(value) - 1} {
					orig := value[i]
					value[i] = orig + eps
					lp := loss()
					value[i] = orig - eps
					lm := loss()
					value[i] = orig

					numeric := (lp - lm) / (2 * eps)
					if math.Abs(numeric-grad[i]) > 1e-6*math.Max(1, math.Abs(numeric)) {
						t.Errorf("%s[%d]: analytisch %v, numerisch %v", p.Name, i, grad[i], numeric)
					}
				}
			}
		})
	}
}

func TestGenerateBounds(t *testing.T) {
	words := []string{"a", "man", "on", "horse", "dog", "cat", "the", "runs"}
	m := newTestModel(t, "LSTM", words)
	m.Eval()
	images := randomImages(rand.New(rand.NewPCG(4, 5)), 4)

	policies := []config.Generation{
		{MaxLength: 20, Deterministic: true},
		{MaxLength: 20, Temperature: 1.5},
		{MaxLength: 3, Temperature: 0.4},
	}

	for _, g := range policies {
		captions, err := m.Generate(images, g, rand.New(rand.NewPCG(9, 9)))
		if err != nil {
			t.Fatalf("Generate(%+v) error = %v", g, err)
		}
		if len(captions) != 4 {
			t.Fatalf("len = %d, erwartet 4", len(captions))
		}
		for i, c := range captions {
			if len(c) > g.MaxLength {
				t.Errorf("caption %d hat %d tokens, erwartet <= %d", i, len(c), g.MaxLength)
			}
			for _, tok := range c {
				if tok == vocab.StartToken || tok == vocab.EndToken || tok == vocab.PadToken {
					t.Errorf("caption %d enthaelt spezial-token %q", i, tok)
				}
			}
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	m := newTestModel(t, "RNN", []string{"a", "b", "c", "d"})
	m.Eval()
	images := randomImages(rand.New(rand.NewPCG(6, 7)), 3)
	g := config.Generation{MaxLength: 10, Deterministic: true}

	first, err := m.Generate(images, g, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Generate(images, g, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("deterministische Generierung unterscheidet sich (-first +second):\n%s", diff)
	}

	if _, err := m.Generate(images, config.Generation{MaxLength: 10, Temperature: 0}, nil); err == nil {
		t.Error("Erwartet Fehler bei temperature=0 im stochastischen Modus")
	}
}

// scripted liefert pro Aufruf die naechste ID aus script[step][b]
type scripted struct {
	script [][]int
	batch  int
	calls  int
}

func (s *scripted) Sample([]float64) (int, error) {
	step, b := s.calls/s.batch, s.calls%s.batch
	s.calls++
	if step >= len(s.script) {
		return s.script[len(s.script)-1][b], nil
	}
	return s.script[step][b], nil
}

func TestGenerateMask(t *testing.T) {
	m := newTestModel(t, "LSTM", []string{"a", "b", "c"})
	v := m.Vocab
	a, b, c := v.ID("a"), v.ID("b"), v.ID("c")
	start, end := v.Start(), v.End()

	emb, err := m.Encode(randomImages(rand.New(rand.NewPCG(8, 8)), 3))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("abbruch je beispiel", func(t *testing.T) {
		s := &scripted{batch: 3, script: [][]int{
			{start, a, start},
			{a, b, c},
			{end, c, end},
			{b, a, a},
			{c, b, b},
			{a, a, c},
		}}

		ids, err := m.Decoder.GenerateIDs(emb, 4, s)
		if err != nil {
			t.Fatal(err)
		}

		want := [][]int{
			{a},
			{a, b, c, a},
			{c},
		}
		if diff := cmp.Diff(want, ids); diff != "" {
			t.Errorf("GenerateIDs() mismatch (-want +got):\n%s", diff)
		}
		if s.calls != 5*3 {
			t.Errorf("Sampler-Aufrufe = %d, erwartet %d", s.calls, 5*3)
		}
	})

	t.Run("frueher stopp", func(t *testing.T) {
		s := &scripted{batch: 3, script: [][]int{
			{a, end, b},
			{end, c, end},
		}}

		ids, err := m.Decoder.GenerateIDs(emb, 10, s)
		if err != nil {
			t.Fatal(err)
		}

		want := [][]int{{a}, {}, {b}}
		if diff := cmp.Diff(want, ids); diff != "" {
			t.Errorf("GenerateIDs() mismatch (-want +got):\n%s", diff)
		}
		if s.calls != 2*3 {
			t.Errorf("Sampler-Aufrufe = %d, erwartet %d", s.calls, 2*3)
		}
	})
}

func TestStateDictRoundTrip(t *testing.T) {
	src := newTestModel(t, "LSTM", []string{"x", "y"})
	dst := newTestModel(t, "LSTM", []string{"x", "y"})
	for _, p := range dst.Params() {
		p.Value.Zero()
	}

	if err := dst.LoadStateDict(src.StateDict()); err != nil {
		t.Fatalf("LoadStateDict() error = %v", err)
	}
	for i, p := range dst.Params() {
		if !mat.Equal(p.Value, src.Params()[i].Value) {
			t.Errorf("Parameter %s nicht uebernommen", p.Name)
		}
	}

	names := make([]string, 0)
	for name := range src.StateDict() {
		names = append(names, name)
	}
	slices.Sort(names)
	if !slices.Contains(names, "decoder.rnn.weight_ih_l1") || !slices.Contains(names, "encoder.fc.weight") {
		t.Errorf("StateDict Namen = %v", names)
	}

	partial := src.StateDict()
	delete(partial, "decoder.out.bias")
	if err := dst.LoadStateDict(partial); err == nil {
		t.Error("Erwartet Fehler bei fehlendem Gewicht")
	}
}
