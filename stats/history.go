// history.go - Verlust-Historien des Trainings
//
// Dieses Modul enthaelt:
// - History: Trainings- und Validierungsverluste je abgeschlossener Epoche
// - Append/Len/Validate/Clone
package stats

import (
	"errors"
	"fmt"
	"slices"
)

// ErrHistoryMismatch wird zurueckgegeben wenn die Historien ungleich lang sind
var ErrHistoryMismatch = errors.New("stats: historien haben ungleiche laenge")

// History enthaelt je abgeschlossener Epoche einen Trainings- und einen Validierungsverlust
type History struct {
	Training   []float64
	Validation []float64
}

// Append fuegt die Verluste einer Epoche an
func (h *History) Append(train, val float64) {
	h.Training = append(h.Training, train)
	h.Validation = append(h.Validation, val)
}

// Len gibt die Anzahl abgeschlossener Epochen zurueck
func (h *History) Len() int { return len(h.Training) }

// Validate prueft, dass beide Historien gleich lang sind
func (h *History) Validate() error {
	if len(h.Training) != len(h.Validation) {
		return fmt.Errorf("%w: training %d, validation %d", ErrHistoryMismatch, len(h.Training), len(h.Validation))
	}
	return nil
}

// Clone gibt eine unabhaengige Kopie zurueck
func (h *History) Clone() History {
	return History{
		Training:   slices.Clone(h.Training),
		Validation: slices.Clone(h.Validation),
	}
}
