// session.go - Aufbau eines Experiments aus Konfiguration und Flags
// Hauptfunktionen: openSession, session.loaders, session.loadWeights
package cmd

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/7blacky7/captioner/checkpoint"
	"github.com/7blacky7/captioner/config"
	"github.com/7blacky7/captioner/dataset"
	"github.com/7blacky7/captioner/envconfig"
	"github.com/7blacky7/captioner/model"
	"github.com/7blacky7/captioner/progress"
	"github.com/7blacky7/captioner/stats"
	"github.com/7blacky7/captioner/train"
	"github.com/7blacky7/captioner/vocab"
)

// session haelt alles was ein Command fuer ein Experiment braucht
type session struct {
	cfg     *config.Config
	vocab   *vocab.Vocabulary
	model   *model.CaptionModel
	store   *stats.Store
	journal *stats.Journal
	rng     *rand.Rand
}

// openSession laedt <name>.json und wendet Umgebungs- und Flag-Overrides an.
// Mit withModel werden zusaetzlich Vokabular und Modell erstellt.
func openSession(cmd *cobra.Command, name string, withModel bool) (*session, error) {
	cfg, err := config.Load(envconfig.ConfigDir(), name)
	if err != nil {
		return nil, err
	}

	if seed := envconfig.Seed(); seed != 0 {
		cfg.Experiment.Seed = seed
	}
	if f := cmd.Flags().Lookup("seed"); f != nil && f.Changed {
		cfg.Experiment.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if dtype := envconfig.CheckpointDType(); dtype != "" {
		cfg.Experiment.CheckpointDType = dtype
	}
	if err := applyGenerationFlags(cmd, &cfg.Generation); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &session{
		cfg:   cfg,
		store: stats.NewStore(envconfig.StatsDir(), cfg.Name),
		rng:   rand.New(rand.NewPCG(cfg.Experiment.Seed, cfg.Experiment.Seed^0x5851f42d4c957f2d)),
	}

	if path := journalPath(cmd); path != "" {
		j, err := stats.OpenJournal(path)
		if err != nil {
			return nil, err
		}
		s.journal = j
	}

	if withModel {
		if s.vocab, err = vocab.Load(cfg.Dataset.VocabularyFile); err != nil {
			s.Close()
			return nil, err
		}
		if s.model, err = model.FromConfig(cfg, s.vocab, s.rng); err != nil {
			s.Close()
			return nil, err
		}
		slog.Debug("model created", "type", s.model.Type, "backbone", s.model.Backbone.Name(), "vocab", s.vocab.Size())
	}

	return s, nil
}

// Close schliesst das Journal
func (s *session) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

// journalPath bevorzugt --db vor CAPTION_STATS_DB
func journalPath(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("db"); f != nil && f.Changed {
		return f.Value.String()
	}
	return envconfig.JournalPath()
}

func applyGenerationFlags(cmd *cobra.Command, g *config.Generation) error {
	flags := cmd.Flags()
	if f := flags.Lookup("max-length"); f != nil && f.Changed {
		g.MaxLength, _ = flags.GetInt("max-length")
	}
	if f := flags.Lookup("deterministic"); f != nil && f.Changed {
		g.Deterministic, _ = flags.GetBool("deterministic")
	}
	if f := flags.Lookup("temperature"); f != nil && f.Changed {
		g.Temperature, _ = flags.GetFloat64("temperature")
	}
	return g.Validate()
}

// loaders erstellt die Loader fuer train, val und test. Nur train wird gemischt.
func (s *session) loaders() (trainL, valL, testL *dataset.CocoLoader, err error) {
	ds := s.cfg.Dataset
	if trainL, err = dataset.NewCocoLoader(ds, ds.TrainingAnnotation, s.vocab, s.rng); err != nil {
		return nil, nil, nil, err
	}
	if valL, err = dataset.NewCocoLoader(ds, ds.ValidationAnnotation, s.vocab, nil); err != nil {
		return nil, nil, nil, err
	}
	if testL, err = dataset.NewCocoLoader(ds, ds.TestAnnotation, s.vocab, nil); err != nil {
		return nil, nil, nil, err
	}
	return trainL, valL, testL, nil
}

// loadWeights uebernimmt die Modellgewichte aus dem letzten Checkpoint
func (s *session) loadWeights() error {
	path := s.store.CheckpointPath()
	ckpt, err := checkpoint.Load(path)
	if err != nil {
		return fmt.Errorf("no trained model for %q: %w", s.cfg.Name, err)
	}
	if mt := ckpt.Metadata["model_type"]; mt != "" && mt != string(s.model.Type) {
		return fmt.Errorf("checkpoint %s is a %s model, config says %s", path, mt, s.model.Type)
	}
	return s.model.LoadStateDict(ckpt.Model)
}

// dependencies baut die Kollaborateure eines Experiments
func (s *session) dependencies(trainL, valL, testL *dataset.CocoLoader) train.Dependencies {
	deps := train.Dependencies{
		Model:      s.model,
		Train:      trainL,
		Val:        valL,
		Test:       testL,
		References: testL.Annotations,
		Store:      s.store,
		Logger:     slog.Default(),
		Rand:       s.rng,
		Progress:   progress.Writer(),
	}
	if s.journal != nil {
		deps.Journal = s.journal
	}
	return deps
}
