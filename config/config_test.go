package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `{
  "experiment_name": "baseline",
  "dataset": {
    "images_root_dir": "./data/images",
    "training_annotation_file_path": "./data/train.json",
    "validation_annotation_file_path": "./data/val.json",
    "test_annotation_file_path": "./data/test.json",
    "vocabulary_file_path": "./data/vocab.json",
    "batch_size": 16
  },
  "experiment": {"num_epochs": 10, "learning_rate": 0.0005, "save": true, "load": false},
  "model": {"hidden_size": 512, "embedding_size": 300, "num_layers": 2, "model_type": "lstm"},
  "generation": {"max_length": 20, "deterministic": false, "temperature": 0.4}
}`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Name != "baseline" {
		t.Errorf("Name = %q, erwartet baseline", cfg.Name)
	}
	if cfg.Model.ModelType != "LSTM" {
		t.Errorf("ModelType = %q, erwartet LSTM", cfg.Model.ModelType)
	}
	if cfg.Dataset.BatchSize != 16 || cfg.Dataset.ImageSize != 256 {
		t.Errorf("Dataset = %+v, erwartet batch 16 und img_size 256", cfg.Dataset)
	}
	if cfg.Experiment.TestEvery != 10 || cfg.Experiment.CheckpointDType != "F32" {
		t.Errorf("Experiment = %+v, erwartet Defaults", cfg.Experiment)
	}
	if cfg.Model.Backbone != "pool" {
		t.Errorf("Backbone = %q, erwartet pool", cfg.Model.Backbone)
	}
}

func TestParseMissingField(t *testing.T) {
	cases := map[string]string{
		"experiment.save":        `"save": true, `,
		"generation.temperature": `, "temperature": 0.4`,
		"model.model_type":       `, "model_type": "lstm"`,
	}

	for field, cut := range cases {
		t.Run(field, func(t *testing.T) {
			data := strings.Replace(validConfig, cut, "", 1)
			_, err := Parse([]byte(data))

			var fe *FieldError
			if !errors.As(err, &fe) || fe.Field != field {
				t.Fatalf("Parse() error = %v, erwartet FieldError fuer %s", err, field)
			}
			if !errors.Is(err, ErrMissingField) {
				t.Errorf("error = %v, erwartet %v", err, ErrMissingField)
			}
		})
	}
}

func TestParseInvalidValues(t *testing.T) {
	cases := map[string]struct{ old, new string }{
		"generation.temperature": {`"temperature": 0.4`, `"temperature": 0`},
		"model.model_type":       {`"model_type": "lstm"`, `"model_type": "gru"`},
		"experiment.num_epochs":  {`"num_epochs": 10`, `"num_epochs": 0`},
	}

	for field, tc := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := Parse([]byte(strings.Replace(validConfig, tc.old, tc.new, 1)))

			var fe *FieldError
			if !errors.As(err, &fe) || fe.Field != field || !errors.Is(err, ErrInvalidValue) {
				t.Errorf("Parse() error = %v, erwartet ungueltigen Wert fuer %s", err, field)
			}
		})
	}
}

func TestCheckpointDType(t *testing.T) {
	cases := map[string]string{"f64": "F64", "F32": "F32", "f16": "F16"}
	for in, want := range cases {
		data := strings.Replace(validConfig, `"num_epochs": 10`, `"num_epochs": 10, "checkpoint_dtype": "`+in+`"`, 1)
		cfg, err := Parse([]byte(data))
		if err != nil {
			t.Fatalf("Parse(%s) error = %v", in, err)
		}
		if cfg.Experiment.CheckpointDType != want {
			t.Errorf("CheckpointDType = %q, erwartet %q", cfg.Experiment.CheckpointDType, want)
		}
	}

	data := strings.Replace(validConfig, `"num_epochs": 10`, `"num_epochs": 10, "checkpoint_dtype": "BF16"`, 1)
	if _, err := Parse([]byte(data)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Parse(BF16) error = %v, erwartet %v", err, ErrInvalidValue)
	}
}

func TestDeterministicIgnoresTemperature(t *testing.T) {
	g := Generation{MaxLength: 5, Deterministic: true, Temperature: 0}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate() error = %v, erwartet nil", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "baseline.json"), []byte(validConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir, "baseline"); err != nil {
		t.Errorf("Load() error = %v", err)
	}

	if _, err := Load(dir, "fehlt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, erwartet %v", err, ErrNotFound)
	}
}
