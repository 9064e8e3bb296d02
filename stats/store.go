// store.go - Experiment-Verzeichnis mit Historien, Logs und Checkpoint
//
// Dieses Modul enthaelt:
// - Store: Zugriff auf <stats dir>/<experiment>/
// - LoadHistory/SaveHistory: training_losses.txt und val_losses.txt (JSON-Listen)
// - Log: Anhaengen an all.log und optional eine weitere Log-Datei
// - CheckpointPath: Pfad von latest_model.safetensors
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	TrainingLossFile   = "training_losses.txt"
	ValidationLossFile = "val_losses.txt"
	AllLogFile         = "all.log"
	EpochLogFile       = "epoch.log"
	CheckpointFile     = "latest_model.safetensors"
)

// ErrNoHistory wird zurueckgegeben wenn keine Historien gespeichert sind
var ErrNoHistory = errors.New("stats: keine historien gespeichert")

// Store verwaltet das Verzeichnis eines Experiments
type Store struct {
	Dir string
}

// NewStore gibt den Store fuer <root>/<name> zurueck
func NewStore(root, name string) *Store {
	return &Store{Dir: filepath.Join(root, name)}
}

// Exists meldet ob das Experiment-Verzeichnis existiert
func (s *Store) Exists() bool {
	info, err := os.Stat(s.Dir)
	return err == nil && info.IsDir()
}

// Create legt das Verzeichnis an
func (s *Store) Create() error {
	return os.MkdirAll(s.Dir, 0o755)
}

// Reset entfernt Historien, Logs und Checkpoint eines frueheren Laufs
func (s *Store) Reset() error {
	for _, name := range []string{TrainingLossFile, ValidationLossFile, AllLogFile, EpochLogFile, CheckpointFile} {
		if err := os.Remove(filepath.Join(s.Dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return s.Create()
}

// CheckpointPath gibt den Pfad des letzten Checkpoints zurueck
func (s *Store) CheckpointPath() string {
	return filepath.Join(s.Dir, CheckpointFile)
}

// HasHistory meldet ob mindestens eine Historien-Datei existiert
func (s *Store) HasHistory() bool {
	for _, name := range []string{TrainingLossFile, ValidationLossFile} {
		if _, err := os.Stat(filepath.Join(s.Dir, name)); err == nil {
			return true
		}
	}
	return false
}

// LoadHistory liest beide Historien; ErrNoHistory wenn keine existiert
func (s *Store) LoadHistory() (History, error) {
	if !s.HasHistory() {
		return History{}, ErrNoHistory
	}

	var h History
	for _, f := range []struct {
		name string
		dst  *[]float64
	}{
		{TrainingLossFile, &h.Training},
		{ValidationLossFile, &h.Validation},
	} {
		data, err := os.ReadFile(filepath.Join(s.Dir, f.name))
		if err != nil {
			return History{}, err
		}
		if err := json.Unmarshal(data, f.dst); err != nil {
			return History{}, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return h, nil
}

// SaveHistory schreibt beide Historien als JSON-Listen
func (s *Store) SaveHistory(h History) error {
	if err := s.Create(); err != nil {
		return err
	}

	for name, values := range map[string][]float64{
		TrainingLossFile:   h.Training,
		ValidationLossFile: h.Validation,
	} {
		if values == nil {
			values = []float64{}
		}
		data, err := json.Marshal(values)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(filepath.Join(s.Dir, name), data); err != nil {
			return err
		}
	}
	return nil
}

// Log haengt line an all.log und an die optionalen weiteren Dateien an
func (s *Store) Log(line string, files ...string) error {
	if err := s.Create(); err != nil {
		return err
	}

	for _, name := range append([]string{AllLogFile}, files...) {
		f, err := os.OpenFile(filepath.Join(s.Dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.WriteString(line + "\n"); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
