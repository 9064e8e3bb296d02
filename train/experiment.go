// MODUL: train
// ZWECK: Trainings-Orchestrierung ueber Epochen mit Validierung, periodischem
//        Test (Verlust, BLEU-1, BLEU-4), Checkpoints und Fortsetzen
// INPUT: Experiment-Konfiguration, Modell, Loader fuer train/val/test, Store
// OUTPUT: Verlust-Historien, Logs und Checkpoint im Experiment-Verzeichnis
// NEBENEFFEKTE: Schreibt in das Experiment-Verzeichnis wenn save=true,
//               optional in das SQLite-Journal
// ABHAENGIGKEITEN: model, nn, dataset, stats, checkpoint, metrics, progress
// HINWEISE: CurrentEpoch() == Anzahl abgeschlossener Epochen == Laenge beider
//           Historien; der Kontext wird zwischen Batches geprueft

package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/7blacky7/captioner/checkpoint"
	"github.com/7blacky7/captioner/config"
	"github.com/7blacky7/captioner/dataset"
	"github.com/7blacky7/captioner/metrics"
	"github.com/7blacky7/captioner/model"
	"github.com/7blacky7/captioner/nn"
	"github.com/7blacky7/captioner/stats"
)

var (
	// ErrResume kennzeichnet einen nicht fortsetzbaren frueheren Lauf
	ErrResume = errors.New("train: fortsetzen nicht moeglich")

	// ErrNoBatches wird zurueckgegeben wenn ein Durchlauf keine nicht-leere Batch hatte
	ErrNoBatches = errors.New("train: keine batches")
)

// ResumeError beschreibt warum ein Lauf nicht fortgesetzt werden kann
type ResumeError struct {
	Path string
	Err  error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrResume, e.Path, e.Err)
}

func (e *ResumeError) Unwrap() []error { return []error{ErrResume, e.Err} }

// ScoreFunc bewertet einen Kandidaten gegen alle Referenzen, Ergebnis in [0, 1]
type ScoreFunc func(references [][]string, candidate []string) float64

// Journal nimmt Laeufe, Epochen und Tests zusaetzlich zu den Text-Dateien auf
type Journal interface {
	StartRun(experiment, modelType string, startEpoch int, at time.Time) (string, error)
	RecordEpoch(runID string, epoch int, train, val float64, took time.Duration) error
	RecordTest(runID string, epoch int, loss, bleu1, bleu4 float64) error
}

// Dependencies sind die Kollaborateure eines Experiments
type Dependencies struct {
	Model      *model.CaptionModel
	Train      dataset.Loader
	Val        dataset.Loader
	Test       dataset.Loader
	References dataset.References
	Store      *stats.Store

	// optional
	Journal  Journal
	Logger   *slog.Logger
	Rand     *rand.Rand
	Now      func() time.Time
	Progress io.Writer
	BLEU1    ScoreFunc
	BLEU4    ScoreFunc
}

// TestResult ist das Ergebnis eines Test-Durchlaufs
type TestResult struct {
	Loss  float64
	BLEU1 float64
	BLEU4 float64
}

// Experiment ist ein Trainingslauf mit explizitem Zustand
type Experiment struct {
	cfg       *config.Config
	model     *model.CaptionModel
	optimizer *nn.Adam

	train, val, test dataset.Loader
	refs             dataset.References
	store            *stats.Store
	journal          Journal
	runID            string

	logger   *slog.Logger
	rng      *rand.Rand
	now      func() time.Time
	progress io.Writer
	bleu1    ScoreFunc
	bleu4    ScoreFunc

	history      stats.History
	currentEpoch int
	exampleImage []float32
}

// New erstellt ein Experiment und setzt bei experiment.load einen frueheren Lauf fort
func New(cfg *config.Config, deps Dependencies) (*Experiment, error) {
	if deps.Model == nil || deps.Train == nil || deps.Val == nil || deps.Store == nil {
		return nil, errors.New("train: model, train, val und store sind pflicht")
	}
	if err := cfg.Generation.Validate(); err != nil {
		return nil, err
	}

	e := &Experiment{
		cfg:       cfg,
		model:     deps.Model,
		optimizer: nn.NewAdam(deps.Model.Params(), cfg.Experiment.LearningRate),
		train:     deps.Train,
		val:       deps.Val,
		test:      deps.Test,
		refs:      deps.References,
		store:     deps.Store,
		journal:   deps.Journal,
		logger:    deps.Logger,
		rng:       deps.Rand,
		now:       deps.Now,
		progress:  deps.Progress,
		bleu1:     deps.BLEU1,
		bleu4:     deps.BLEU4,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(cfg.Experiment.Seed, cfg.Experiment.Seed^0x9e3779b97f4a7c15))
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.bleu1 == nil {
		e.bleu1 = metrics.BLEU1
	}
	if e.bleu4 == nil {
		e.bleu4 = metrics.BLEU4
	}

	if cfg.Experiment.Load {
		if err := e.resume(); err != nil {
			return nil, err
		}
	} else if cfg.Experiment.Save {
		if err := e.store.Reset(); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// CurrentEpoch gibt die Anzahl abgeschlossener Epochen zurueck
func (e *Experiment) CurrentEpoch() int { return e.currentEpoch }

// History gibt eine Kopie der Verlust-Historien zurueck
func (e *Experiment) History() stats.History { return e.history.Clone() }

// Model gibt das trainierte Modell zurueck
func (e *Experiment) Model() *model.CaptionModel { return e.model }

// RunID gibt die Journal-ID des laufenden Runs zurueck, leer ohne Journal
func (e *Experiment) RunID() string { return e.runID }

// ============================================================================
// Fortsetzen
// ============================================================================

// resume laedt Historien und Checkpoint eines frueheren Laufs. Ohne Verzeichnis
// oder ohne Historien und Checkpoint beginnt das Experiment neu.
func (e *Experiment) resume() error {
	if !e.store.Exists() {
		e.logger.Info("no previous run found, starting fresh", "dir", e.store.Dir)
		return e.store.Create()
	}

	path := e.store.CheckpointPath()
	h, err := e.store.LoadHistory()
	switch {
	case errors.Is(err, stats.ErrNoHistory):
		if _, err := checkpoint.Load(path); err == nil {
			return &ResumeError{Path: e.store.Dir, Err: errors.New("checkpoint ohne verlust-historien")}
		}
		e.logger.Info("no previous statistics found, starting fresh", "dir", e.store.Dir)
		return nil
	case err != nil:
		return &ResumeError{Path: e.store.Dir, Err: err}
	}

	if err := h.Validate(); err != nil {
		return &ResumeError{Path: e.store.Dir, Err: err}
	}

	ckpt, err := checkpoint.Load(path)
	if err != nil {
		return &ResumeError{Path: path, Err: err}
	}
	if err := e.model.LoadStateDict(ckpt.Model); err != nil {
		return &ResumeError{Path: path, Err: err}
	}
	if err := e.optimizer.LoadState(ckpt.Optimizer); err != nil {
		return &ResumeError{Path: path, Err: err}
	}

	e.history = h
	e.currentEpoch = h.Len()
	e.logger.Info("resumed experiment", "dir", e.store.Dir, "epoch", e.currentEpoch, "optimizer_step", ckpt.Optimizer.Step)
	return nil
}

// ============================================================================
// Epochen-Schleife
// ============================================================================

// Run trainiert von CurrentEpoch() bis experiment.num_epochs
func (e *Experiment) Run(ctx context.Context) error {
	start := e.currentEpoch
	total := e.cfg.Experiment.NumEpochs

	e.logger.Info("starting experiment", "name", e.cfg.Name, "model_type", e.model.Type, "epochs", total, "start_epoch", start)

	if e.journal != nil && start < total {
		id, err := e.journal.StartRun(e.cfg.Name, string(e.model.Type), start, e.now())
		if err != nil {
			return err
		}
		e.runID = id
	}

	for epoch := start; epoch < total; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.exampleCaption()

		if every := e.cfg.Experiment.TestEvery; every > 0 && epoch%every == 0 && epoch != start {
			e.logger.Info("running test", "epoch", epoch)
			if _, err := e.Test(ctx); err != nil {
				return err
			}
		}

		began := e.now()
		trainLoss, err := e.TrainEpoch(ctx, epoch)
		if err != nil {
			return err
		}
		valLoss, err := e.ValidateEpoch(ctx, epoch)
		if err != nil {
			return err
		}

		if err := e.finishEpoch(epoch, trainLoss, valLoss, e.now().Sub(began)); err != nil {
			return err
		}
	}
	return nil
}

// finishEpoch haelt die Verluste fest, schreibt Log, Checkpoint und Historien
func (e *Experiment) finishEpoch(epoch int, trainLoss, valLoss float64, took time.Duration) error {
	e.history.Append(trainLoss, valLoss)
	e.currentEpoch = e.history.Len()

	eta := took * time.Duration(e.cfg.Experiment.NumEpochs-epoch-1)
	e.log(fmt.Sprintf("Epoch: %d, Train Loss: %v, Val Loss: %v, Took %s, ETA: %s", epoch+1, trainLoss, valLoss, took, eta), stats.EpochLogFile)
	e.logger.Info("epoch finished", "epoch", epoch+1, "train_loss", trainLoss, "val_loss", valLoss, "took", took, "eta", eta)

	if e.cfg.Experiment.Save {
		if err := e.saveCheckpoint(); err != nil {
			return err
		}
		if err := e.store.SaveHistory(e.history); err != nil {
			return err
		}
	}

	if e.journal != nil && e.runID != "" {
		if err := e.journal.RecordEpoch(e.runID, epoch+1, trainLoss, valLoss, took); err != nil {
			e.logger.Warn("journal write failed", "error", err)
		}
	}
	return nil
}

func (e *Experiment) saveCheckpoint() error {
	ckpt := &checkpoint.Checkpoint{
		Model:     e.model.StateDict(),
		Optimizer: e.optimizer.State(),
		Metadata: map[string]string{
			"experiment": e.cfg.Name,
			"model_type": string(e.model.Type),
		},
	}
	dtype := checkpoint.DType(e.cfg.Experiment.CheckpointDType)
	if dtype == "" {
		dtype = checkpoint.F32
	}
	return checkpoint.Save(e.store.CheckpointPath(), ckpt, dtype)
}

// log schreibt eine Zeile auf den Logger und bei save=true nach all.log und files
func (e *Experiment) log(line string, files ...string) {
	fmt.Fprintln(e.logWriter(), line)
	if !e.cfg.Experiment.Save {
		return
	}
	if err := e.store.Log(line, files...); err != nil {
		e.logger.Warn("experiment log write failed", "error", err)
	}
}

// logWriter ist die Konsole fuer Experiment-Zeilen; ohne Progress-Ausgabe io.Discard
func (e *Experiment) logWriter() io.Writer {
	if e.progress == nil {
		return io.Discard
	}
	return e.progress
}

// exampleCaption erzeugt eine Caption fuer das erste Trainingsbild
func (e *Experiment) exampleCaption() {
	if e.exampleImage == nil {
		return
	}

	captions, err := e.model.Generate([][]float32{e.exampleImage}, e.cfg.Generation, e.rng)
	if err != nil {
		e.logger.Warn("example caption failed", "error", err)
		return
	}
	e.logger.Info("generated caption", "caption", join(captions[0]))
}
