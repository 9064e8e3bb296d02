// MODUL: model
// ZWECK: Caption-Modell aus eingefrorenem Backbone, trainierbarer Projektion
//        und rekurrentem Decoder; Factory anhand der Modell-Konfiguration
// INPUT: vorverarbeitete Bilder (CHW []float32), Caption-IDs, Generierungs-Politik
// OUTPUT: Logits fuer den Verlust, generierte Captions als Token-Listen
// NEBENEFFEKTE: Backward akkumuliert Gradienten, LoadStateDict ueberschreibt Gewichte
// ABHAENGIGKEITEN: nn, sample, vision, vocab, config, gonum.org/v1/gonum/mat (extern)
// HINWEISE: Im Eval-Modus wird nichts fuer Backward aufgezeichnet

package model

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/7blacky7/captioner/config"
	"github.com/7blacky7/captioner/nn"
	"github.com/7blacky7/captioner/sample"
	"github.com/7blacky7/captioner/vision"
	"github.com/7blacky7/captioner/vocab"
	"gonum.org/v1/gonum/mat"
)

// CaptionModel ist das gesamte Encoder-Decoder-Modell
type CaptionModel struct {
	Type     nn.Kind
	Vocab    *vocab.Vocabulary
	Backbone vision.Backbone
	Encoder  *nn.Linear
	Decoder  *Decoder

	training bool
}

// Forward ist das Ergebnis eines Teacher-Forcing-Durchlaufs
type Forward struct {
	Scores *Scores

	features *mat.Dense
}

// Logits gibt die Logits je Position zurueck
func (f *Forward) Logits() []*mat.Dense { return f.Scores.Logits }

// New erstellt ein Modell fuer den gegebenen Modell-Block
func New(cfg config.Model, v *vocab.Vocabulary, backbone vision.Backbone, rng *rand.Rand) (*CaptionModel, error) {
	kind := nn.Kind(strings.ToUpper(cfg.ModelType))
	if kind == "" {
		kind = nn.LSTM
	}

	rnn, err := nn.NewRecurrent(kind, "decoder.rnn", cfg.EmbeddingSize, cfg.HiddenSize, cfg.NumLayers, rng)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	return &CaptionModel{
		Type:     kind,
		Vocab:    v,
		Backbone: backbone,
		Encoder:  nn.NewLinear("encoder.fc", backbone.Dim(), cfg.EmbeddingSize, rng),
		Decoder: &Decoder{
			Embed: nn.NewEmbedding("decoder.embed", v.Size(), cfg.EmbeddingSize, rng),
			RNN:   rnn,
			Out:   nn.NewLinear("decoder.out", cfg.HiddenSize, v.Size(), rng),
			vocab: v,
		},
		training: true,
	}, nil
}

// FromConfig erstellt Backbone und Modell aus der Experiment-Konfiguration
func FromConfig(cfg *config.Config, v *vocab.Vocabulary, rng *rand.Rand) (*CaptionModel, error) {
	backbone, err := vision.Create(cfg.Model.Backbone, vision.Options{
		ImageSize: cfg.Dataset.ImageSize,
		GridSize:  cfg.Model.GridSize,
	})
	if err != nil {
		return nil, err
	}
	return New(cfg.Model, v, backbone, rng)
}

func (m *CaptionModel) Train()         { m.training = true }
func (m *CaptionModel) Eval()          { m.training = false }
func (m *CaptionModel) Training() bool { return m.training }

// Params gibt alle trainierbaren Parameter zurueck; der Backbone hat keine
func (m *CaptionModel) Params() []*nn.Param {
	return append(m.Encoder.Params(), m.Decoder.Params()...)
}

// features berechnet die eingefrorenen Backbone-Features (B, D)
func (m *CaptionModel) features(images [][]float32) (*mat.Dense, error) {
	if len(images) == 0 {
		return nil, ErrEmptyBatch
	}

	dim := m.Backbone.Dim()
	out := mat.NewDense(len(images), dim, nil)
	for b, img := range images {
		feat, err := m.Backbone.Features(img)
		if err != nil {
			return nil, fmt.Errorf("bild %d: %w", b, err)
		}
		row := out.RawRowView(b)
		for j, v := range feat {
			row[j] = float64(v)
		}
	}
	return out, nil
}

// Encode bildet Bilder auf Embeddings (B, E) ab
func (m *CaptionModel) Encode(images [][]float32) (*mat.Dense, error) {
	feats, err := m.features(images)
	if err != nil {
		return nil, err
	}
	return m.Encoder.Forward(feats), nil
}

// Forward bewertet captions unter Teacher-Forcing
func (m *CaptionModel) Forward(images [][]float32, captions [][]int) (*Forward, error) {
	feats, err := m.features(images)
	if err != nil {
		return nil, err
	}

	scores, err := m.Decoder.Score(m.Encoder.Forward(feats), captions, m.training)
	if err != nil {
		return nil, err
	}

	f := &Forward{Scores: scores}
	if m.training {
		f.features = feats
	}
	return f, nil
}

// Backward propagiert dLogits bis in die Encoder-Projektion
func (m *CaptionModel) Backward(f *Forward, dLogits []*mat.Dense) error {
	if f.features == nil {
		return ErrNoGrad
	}

	dEmb, err := m.Decoder.Backward(f.Scores, dLogits)
	if err != nil {
		return err
	}
	m.Encoder.Backward(f.features, dEmb)
	return nil
}

// Generate erzeugt Captions fuer images mit der gegebenen Politik
func (m *CaptionModel) Generate(images [][]float32, g config.Generation, rng *rand.Rand) ([][]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	s, err := sample.New(g.Deterministic, g.Temperature, rng)
	if err != nil {
		return nil, err
	}

	emb, err := m.Encode(images)
	if err != nil {
		return nil, err
	}

	ids, err := m.Decoder.GenerateIDs(emb, g.MaxLength, s)
	if err != nil {
		return nil, err
	}

	captions := make([][]string, len(ids))
	for b, seq := range ids {
		captions[b] = m.Vocab.Decode(seq)
	}
	return captions, nil
}

// ============================================================================
// State-Dict
// ============================================================================

// StateDict gibt Kopien aller Gewichte nach Parametername zurueck
func (m *CaptionModel) StateDict() map[string]*mat.Dense {
	out := make(map[string]*mat.Dense)
	for _, p := range m.Params() {
		out[p.Name] = mat.DenseCopyOf(p.Value)
	}
	return out
}

// LoadStateDict uebernimmt Gewichte; jeder Parameter muss mit passender Form vorhanden sein
func (m *CaptionModel) LoadStateDict(state map[string]*mat.Dense) error {
	params := m.Params()
	for _, p := range params {
		src, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("model: gewicht %s fehlt", p.Name)
		}
		r, c := p.Value.Dims()
		if sr, sc := src.Dims(); sr != r || sc != c {
			return fmt.Errorf("%w: %s ist %dx%d, erwartet %dx%d", nn.ErrShape, p.Name, sr, sc, r, c)
		}
	}
	if len(state) != len(params) {
		return fmt.Errorf("model: %d gewichte im state, erwartet %d", len(state), len(params))
	}

	for _, p := range params {
		p.Value.Copy(state[p.Name])
	}
	return nil
}
