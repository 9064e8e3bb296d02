package dataset

import (
	"context"
	"iter"
	"math/rand/v2"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/7blacky7/captioner/config"
	"github.com/7blacky7/captioner/logutil"
	"github.com/7blacky7/captioner/vision"
	"github.com/7blacky7/captioner/vocab"
)

// CocoLoader bildet Batches aus COCO-Annotationen und Bilddateien
type CocoLoader struct {
	Annotations *Annotations
	Vocab       *vocab.Vocabulary
	ImagesDir   string
	ImageSize   int
	BatchSize   int
	Workers     int

	// Rand mischt die Paare vor jeder Epoche, nil = feste Reihenfolge
	Rand *rand.Rand
}

// NewCocoLoader liest annotationPath und erstellt einen Loader mit den
// Dataset-Einstellungen aus cfg
func NewCocoLoader(cfg config.Dataset, annotationPath string, v *vocab.Vocabulary, rng *rand.Rand) (*CocoLoader, error) {
	ann, err := LoadAnnotations(annotationPath)
	if err != nil {
		return nil, err
	}
	return &CocoLoader{
		Annotations: ann,
		Vocab:       v,
		ImagesDir:   cfg.ImagesRootDir,
		ImageSize:   cfg.ImageSize,
		BatchSize:   cfg.BatchSize,
		Workers:     cfg.NumWorkers,
		Rand:        rng,
	}, nil
}

func (l *CocoLoader) Len() int {
	return (len(l.Annotations.Pairs) + l.BatchSize - 1) / l.BatchSize
}

// Batches implementiert Loader. Die Bilder einer Batch werden parallel mit
// hoechstens Workers Goroutinen dekodiert.
func (l *CocoLoader) Batches(ctx context.Context) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		order := make([]int, len(l.Annotations.Pairs))
		for i := range order {
			order[i] = i
		}
		if l.Rand != nil {
			l.Rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		for start := 0; start < len(order); start += l.BatchSize {
			end := min(start+l.BatchSize, len(order))
			b, err := l.batch(ctx, order[start:end])
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

func (l *CocoLoader) batch(ctx context.Context, idx []int) (*Batch, error) {
	b := &Batch{
		Images:   make([][]float32, len(idx)),
		Captions: make([][]int, len(idx)),
		ImageIDs: make([]int64, len(idx)),
	}

	longest := 0
	for i, k := range idx {
		p := l.Annotations.Pairs[k]
		b.ImageIDs[i] = p.ImageID
		b.Captions[i] = l.Vocab.Encode(p.Tokens)
		longest = max(longest, len(b.Captions[i]))
	}
	for i, c := range b.Captions {
		for len(c) < longest {
			c = append(c, l.Vocab.Pad())
		}
		b.Captions[i] = c
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(l.Workers, 1))
	for i, id := range b.ImageIDs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			path := filepath.Join(l.ImagesDir, l.Annotations.Files[id])
			img, err := vision.LoadImage(path)
			if err != nil {
				return err
			}
			b.Images[i], err = vision.Preprocess(img, l.ImageSize)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logutil.Trace("batch loaded", "size", len(idx), "caption_len", longest)
	return b, nil
}
