// MODUL: dataset
// ZWECK: Batches aus Bildern und gepaddeten Captions sowie das Loader-Interface
// INPUT: vorverarbeitete Bilder, Caption-IDs, Bild-IDs
// OUTPUT: Batch, iter.Seq2 ueber Batches
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: iter (stdlib)
// HINWEISE: Alle Captions einer Batch haben dieselbe gepaddete Laenge

package dataset

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// ErrBatchShape wird bei inkonsistenten Batches zurueckgegeben
var ErrBatchShape = errors.New("dataset: inkonsistente batch")

// Batch ist eine Gruppe von Bildern mit je einer Caption
type Batch struct {
	Images   [][]float32
	Captions [][]int
	ImageIDs []int64
}

// Size gibt die Anzahl der Beispiele zurueck
func (b *Batch) Size() int { return len(b.Images) }

// Validate prueft, dass alle Slices gleich lang und alle Captions gleich lang sind
func (b *Batch) Validate() error {
	if len(b.Captions) != len(b.Images) || len(b.ImageIDs) != len(b.Images) {
		return fmt.Errorf("%w: %d bilder, %d captions, %d ids", ErrBatchShape, len(b.Images), len(b.Captions), len(b.ImageIDs))
	}
	for i, c := range b.Captions {
		if len(c) != len(b.Captions[0]) {
			return fmt.Errorf("%w: caption %d hat laenge %d, erwartet %d", ErrBatchShape, i, len(c), len(b.Captions[0]))
		}
	}
	return nil
}

// Loader liefert eine endliche, wiederholbare Folge von Batches
type Loader interface {
	// Batches iteriert ueber alle Batches einer Epoche
	Batches(ctx context.Context) iter.Seq2[*Batch, error]

	// Len gibt die Anzahl der Batches pro Epoche zurueck
	Len() int
}

// References liefert alle tokenisierten Referenz-Captions eines Bildes
type References interface {
	References(imageID int64) [][]string
}

// SliceLoader ist ein Loader ueber eine feste Batch-Liste
type SliceLoader []*Batch

func (s SliceLoader) Len() int { return len(s) }

func (s SliceLoader) Batches(ctx context.Context) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		for _, b := range s {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// ReferenceMap ist eine References-Implementierung ueber eine Map
type ReferenceMap map[int64][][]string

func (m ReferenceMap) References(imageID int64) [][]string {
	return m[imageID]
}
