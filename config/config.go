// MODUL: config
// ZWECK: Experiment-Konfiguration <name>.json laden und pruefen
// INPUT: Konfigurationsverzeichnis und Experiment-Name bzw. JSON-Bytes
// OUTPUT: Config mit Dataset-, Experiment-, Modell- und Generierungs-Block
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei Load
// ABHAENGIGKEITEN: encoding/json (stdlib)
// HINWEISE: Pflichtfelder werden ueber ihr Vorhandensein geprueft, damit auch
//           fehlende Booleans (save, load) erkannt werden

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound     = errors.New("config: konfigurationsdatei nicht gefunden")
	ErrMissingField = errors.New("config: pflichtfeld fehlt")
	ErrInvalidValue = errors.New("config: ungueltiger wert")
)

// FieldError benennt das betroffene Feld in Punktnotation (z.B. "experiment.save")
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, err error, format string, args ...any) error {
	if format == "" {
		return &FieldError{Field: field, Err: err}
	}
	return &FieldError{Field: field, Err: fmt.Errorf("%w: "+format, append([]any{err}, args...)...)}
}

// ============================================================================
// Konfigurations-Bloecke
// ============================================================================

type Config struct {
	Name       string     `json:"experiment_name"`
	Dataset    Dataset    `json:"dataset"`
	Experiment Experiment `json:"experiment"`
	Model      Model      `json:"model"`
	Generation Generation `json:"generation"`
}

type Dataset struct {
	ImagesRootDir        string `json:"images_root_dir"`
	TrainingAnnotation   string `json:"training_annotation_file_path"`
	ValidationAnnotation string `json:"validation_annotation_file_path"`
	TestAnnotation       string `json:"test_annotation_file_path"`
	VocabularyFile       string `json:"vocabulary_file_path"`
	ImageSize            int    `json:"img_size"`
	BatchSize            int    `json:"batch_size"`
	NumWorkers           int    `json:"num_workers"`
}

type Experiment struct {
	NumEpochs    int     `json:"num_epochs"`
	LearningRate float64 `json:"learning_rate"`
	Save         bool    `json:"save"`
	Load         bool    `json:"load"`
	// TestEvery ist der Abstand K der Test-Durchlaeufe in Epochen, 0 = nie
	TestEvery       int    `json:"test_every"`
	Seed            uint64 `json:"seed"`
	CheckpointDType string `json:"checkpoint_dtype"`
}

type Model struct {
	HiddenSize    int    `json:"hidden_size"`
	EmbeddingSize int    `json:"embedding_size"`
	NumLayers     int    `json:"num_layers"`
	ModelType     string `json:"model_type"`
	Backbone      string `json:"backbone"`
	GridSize      int    `json:"grid_size"`
}

// Generation ist die Politik fuer die autoregressive Generierung
type Generation struct {
	MaxLength     int     `json:"max_length"`
	Deterministic bool    `json:"deterministic"`
	Temperature   float64 `json:"temperature"`
}

// Validate prueft die Generierungs-Politik
func (g Generation) Validate() error {
	if g.MaxLength <= 0 {
		return fieldErr("generation.max_length", ErrInvalidValue, "%d <= 0", g.MaxLength)
	}
	if !g.Deterministic && !(g.Temperature > 0) {
		return fieldErr("generation.temperature", ErrInvalidValue, "%v <= 0 bei deterministic=false", g.Temperature)
	}
	return nil
}

// ============================================================================
// Laden und Parsen
// ============================================================================

// required listet die Pflichtfelder je Block
var required = map[string][]string{
	"dataset": {
		"images_root_dir",
		"training_annotation_file_path",
		"validation_annotation_file_path",
		"test_annotation_file_path",
		"vocabulary_file_path",
	},
	"experiment": {"num_epochs", "learning_rate", "save", "load"},
	"model":      {"hidden_size", "embedding_size", "num_layers", "model_type"},
	"generation": {"max_length", "deterministic", "temperature"},
}

// Path gibt den Pfad der Konfigurationsdatei fuer name zurueck
func Path(dir, name string) string {
	return filepath.Join(dir, name+".json")
}

// Load liest und prueft <dir>/<name>.json
func Load(dir, name string) (*Config, error) {
	path := Path(dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	} else if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse dekodiert JSON-Bytes, prueft Pflichtfelder und setzt Defaults
func Parse(data []byte) (*Config, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}

	if _, ok := top["experiment_name"]; !ok {
		return nil, fieldErr("experiment_name", ErrMissingField, "")
	}

	for _, block := range []string{"dataset", "experiment", "model", "generation"} {
		raw, ok := top[block]
		if !ok {
			return nil, fieldErr(block, ErrMissingField, "")
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fieldErr(block, ErrInvalidValue, "%v", err)
		}
		for _, key := range required[block] {
			if v, ok := fields[key]; !ok || strings.TrimSpace(string(v)) == "null" {
				return nil, fieldErr(block+"."+key, ErrMissingField, "")
			}
		}
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default gibt eine Konfiguration mit allen optionalen Defaults zurueck
func Default() *Config {
	return &Config{
		Dataset: Dataset{
			ImageSize:  256,
			BatchSize:  64,
			NumWorkers: 4,
		},
		Experiment: Experiment{
			TestEvery:       10,
			CheckpointDType: "F32",
		},
		Model: Model{
			NumLayers: 2,
			ModelType: "LSTM",
			Backbone:  "pool",
			GridSize:  4,
		},
	}
}

// Validate prueft Wertebereiche aller Bloecke
func (c *Config) Validate() error {
	positive := []struct {
		field string
		value int
	}{
		{"experiment.num_epochs", c.Experiment.NumEpochs},
		{"model.hidden_size", c.Model.HiddenSize},
		{"model.embedding_size", c.Model.EmbeddingSize},
		{"model.num_layers", c.Model.NumLayers},
		{"model.grid_size", c.Model.GridSize},
		{"dataset.img_size", c.Dataset.ImageSize},
		{"dataset.batch_size", c.Dataset.BatchSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fieldErr(p.field, ErrInvalidValue, "%d <= 0", p.value)
		}
	}

	if !(c.Experiment.LearningRate > 0) {
		return fieldErr("experiment.learning_rate", ErrInvalidValue, "%v <= 0", c.Experiment.LearningRate)
	}
	if c.Experiment.TestEvery < 0 {
		return fieldErr("experiment.test_every", ErrInvalidValue, "%d < 0", c.Experiment.TestEvery)
	}
	if c.Dataset.NumWorkers < 0 {
		return fieldErr("dataset.num_workers", ErrInvalidValue, "%d < 0", c.Dataset.NumWorkers)
	}

	switch strings.ToUpper(c.Model.ModelType) {
	case "LSTM", "RNN":
		c.Model.ModelType = strings.ToUpper(c.Model.ModelType)
	default:
		return fieldErr("model.model_type", ErrInvalidValue, "%q", c.Model.ModelType)
	}

	switch strings.ToUpper(c.Experiment.CheckpointDType) {
	case "F64", "F32", "F16":
		c.Experiment.CheckpointDType = strings.ToUpper(c.Experiment.CheckpointDType)
	default:
		return fieldErr("experiment.checkpoint_dtype", ErrInvalidValue, "%q", c.Experiment.CheckpointDType)
	}

	return c.Generation.Validate()
}
