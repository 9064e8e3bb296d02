// loop.go - Durchlaeufe ueber die Loader einer Epoche
//
// Dieses Modul enthaelt:
// - TrainEpoch: Teacher-Forcing mit Rueckpropagation und Adam-Schritt
// - ValidateEpoch: Verlust ohne Gradienten
// - Test: Verlust, BLEU-1 und BLEU-4 gegen alle Referenzen eines Bildes
package train

import (
	"context"
	"fmt"
	"strings"

	"github.com/7blacky7/captioner/dataset"
	"github.com/7blacky7/captioner/nn"
	"github.com/7blacky7/captioner/progress"
)

// testLogEvery ist der Abstand zwischen geloggten Beispiel-Captions im Test
const testLogEvery = 10

// TrainEpoch trainiert eine Epoche und gibt den mittleren Batch-Verlust zurueck
func (e *Experiment) TrainEpoch(ctx context.Context, epoch int) (float64, error) {
	e.model.Train()

	bar := progress.NewBar(e.progress, fmt.Sprintf("Epoch %d training", epoch+1), e.train.Len())
	defer bar.Close()

	var total float64
	var n int
	for b, err := range e.train.Batches(ctx) {
		if err != nil {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if b.Size() == 0 {
			e.logger.Debug("skipping empty training batch")
			bar.Add(1)
			continue
		}
		if err := b.Validate(); err != nil {
			return 0, err
		}
		if e.exampleImage == nil {
			e.exampleImage = b.Images[0]
		}

		loss, err := e.trainStep(b)
		if err != nil {
			return 0, err
		}
		total += loss
		n++
		bar.Add(1)
	}

	if n == 0 {
		return 0, fmt.Errorf("%w: training", ErrNoBatches)
	}
	return total / float64(n), nil
}

func (e *Experiment) trainStep(b *dataset.Batch) (float64, error) {
	e.optimizer.ZeroGrad()

	f, err := e.model.Forward(b.Images, b.Captions)
	if err != nil {
		return 0, err
	}
	loss, dLogits, err := nn.CrossEntropy(f.Logits(), b.Captions)
	if err != nil {
		return 0, err
	}
	if err := e.model.Backward(f, dLogits); err != nil {
		return 0, err
	}
	e.optimizer.Step()
	return loss, nil
}

// ValidateEpoch berechnet den mittleren Validierungs-Verlust ohne Gewichtsaenderung
func (e *Experiment) ValidateEpoch(ctx context.Context, epoch int) (float64, error) {
	e.model.Eval()

	bar := progress.NewBar(e.progress, fmt.Sprintf("Epoch %d validation", epoch+1), e.val.Len())
	defer bar.Close()

	var total float64
	var n int
	for b, err := range e.val.Batches(ctx) {
		if err != nil {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if b.Size() == 0 {
			e.logger.Debug("skipping empty validation batch")
			bar.Add(1)
			continue
		}

		loss, err := e.evalLoss(b)
		if err != nil {
			return 0, err
		}
		total += loss
		n++
		bar.Add(1)
	}

	if n == 0 {
		return 0, fmt.Errorf("%w: validation", ErrNoBatches)
	}
	return total / float64(n), nil
}

func (e *Experiment) evalLoss(b *dataset.Batch) (float64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	f, err := e.model.Forward(b.Images, b.Captions)
	if err != nil {
		return 0, err
	}
	loss, _, err := nn.CrossEntropy(f.Logits(), b.Captions)
	return loss, err
}

// ============================================================================
// Test
// ============================================================================

// Test berechnet Verlust und mittlere BLEU-Werte auf dem Test-Loader.
// BLEU wird pro Batch gemittelt und dann ueber die Batches.
func (e *Experiment) Test(ctx context.Context) (TestResult, error) {
	if e.test == nil || e.refs == nil {
		return TestResult{}, fmt.Errorf("%w: kein test-loader", ErrNoBatches)
	}
	e.model.Eval()

	bar := progress.NewBar(e.progress, "Testing...", e.test.Len())
	defer bar.Close()

	var loss, bleu1, bleu4 float64
	var n, batchIdx int
	for b, err := range e.test.Batches(ctx) {
		if err != nil {
			return TestResult{}, err
		}
		if err := ctx.Err(); err != nil {
			return TestResult{}, err
		}
		if b.Size() == 0 {
			bar.Add(1)
			continue
		}

		l, err := e.evalLoss(b)
		if err != nil {
			return TestResult{}, err
		}

		captions, err := e.model.Generate(b.Images, e.cfg.Generation, e.rng)
		if err != nil {
			return TestResult{}, err
		}

		var sum1, sum4, best float64
		bestIdx := 0
		for i, c := range captions {
			refs := e.refs.References(b.ImageIDs[i])
			s1 := e.bleu1(refs, c)
			sum1 += s1
			sum4 += e.bleu4(refs, c)
			if s1 > best {
				best, bestIdx = s1, i
			}
		}

		if batchIdx%testLogEvery == 0 {
			e.logger.Info("test caption", "bleu1", best, "caption", join(captions[bestIdx]))
		}

		loss += l
		bleu1 += sum1 / float64(len(captions))
		bleu4 += sum4 / float64(len(captions))
		n++
		batchIdx++
		bar.Add(1)
	}

	if n == 0 {
		return TestResult{}, fmt.Errorf("%w: test", ErrNoBatches)
	}

	res := TestResult{
		Loss:  loss / float64(n),
		BLEU1: bleu1 / float64(n),
		BLEU4: bleu4 / float64(n),
	}

	e.log(fmt.Sprintf("Test Loss: %v\tBleu1: %v\tBleu4: %v", res.Loss, res.BLEU1, res.BLEU4))
	e.logger.Info("test finished", "epoch", e.currentEpoch, "loss", res.Loss, "bleu1", res.BLEU1, "bleu4", res.BLEU4)
	if e.journal != nil && e.runID != "" {
		if err := e.journal.RecordTest(e.runID, e.currentEpoch, res.Loss, res.BLEU1, res.BLEU4); err != nil {
			e.logger.Warn("journal write failed", "error", err)
		}
	}
	return res, nil
}

func join(tokens []string) string { return strings.Join(tokens, " ") }
