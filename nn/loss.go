package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CrossEntropy berechnet den mittleren Kreuzentropie-Verlust ueber alle B*L
// Positionen. logits[t] ist (B, V), targets[b][t] die Ziel-ID.
// Gibt den Verlust und dLoss/dLogits in derselben Form wie logits zurueck.
func CrossEntropy(logits []*mat.Dense, targets [][]int) (float64, []*mat.Dense, error) {
	if len(logits) == 0 || len(targets) == 0 {
		return 0, nil, fmt.Errorf("%w: leere eingabe", ErrShape)
	}

	batch, vocab := logits[0].Dims()
	steps := len(logits)
	if len(targets) != batch {
		return 0, nil, fmt.Errorf("%w: %d ziele fuer batch %d", ErrShape, len(targets), batch)
	}
	for b, row := range targets {
		if len(row) != steps {
			return 0, nil, fmt.Errorf("%w: ziel %d hat laenge %d, erwartet %d", ErrShape, b, len(row), steps)
		}
	}

	n := float64(batch * steps)
	var total float64
	grads := make([]*mat.Dense, steps)

	for t, lg := range logits {
		if r, c := lg.Dims(); r != batch || c != vocab {
			return 0, nil, fmt.Errorf("%w: logits[%d] ist %dx%d", ErrShape, t, r, c)
		}

		g := mat.DenseCopyOf(lg)
		data := raw(g)
		for b := range batch {
			row := data[b*vocab : (b+1)*vocab]
			target := targets[b][t]
			if target < 0 || target >= vocab {
				return 0, nil, fmt.Errorf("%w: ziel-id %d ausserhalb [0,%d)", ErrShape, target, vocab)
			}

			lse := floats.LogSumExp(row)
			total -= row[target] - lse

			for v := range row {
				row[v] = math.Exp(row[v]-lse) / n
			}
			row[target] -= 1 / n
		}
		grads[t] = g
	}

	return total / n, grads, nil
}
