// MODUL: sample
// ZWECK: Token-Auswahl aus Logits (greedy oder temperaturskaliertes Sampling)
// INPUT: Logit-Vektoren je Beispiel, Temperatur, *rand.Rand
// OUTPUT: gewaehlte Token-IDs
// NEBENEFFEKTE: verbraucht Zufallszahlen aus der uebergebenen Quelle
// ABHAENGIGKEITEN: gonum.org/v1/gonum/floats (extern), math/rand/v2
// HINWEISE: Greedy waehlt bei Gleichstand den kleinsten Index

package sample

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrTemperature = errors.New("sample: temperatur muss groesser 0 sein")
	ErrEmptyLogits = errors.New("sample: leere logits")
)

// Sampler waehlt eine Token-ID aus einem Logit-Vektor
type Sampler interface {
	Sample(logits []float64) (int, error)
}

// Greedy waehlt die ID mit der hoechsten Log-Wahrscheinlichkeit
type Greedy struct{}

func (Greedy) Sample(logits []float64) (int, error) {
	if len(logits) == 0 {
		return 0, ErrEmptyLogits
	}
	// floats.MaxIdx liefert den ersten Index des Maximums
	return floats.MaxIdx(LogSoftmax(logits)), nil
}

// Temperature zieht aus softmax(logits / T)
type Temperature struct {
	T    float64
	Rand *rand.Rand
}

func (s Temperature) Sample(logits []float64) (int, error) {
	if !(s.T > 0) || math.IsInf(s.T, 0) {
		return 0, fmt.Errorf("%w: %v", ErrTemperature, s.T)
	}
	if len(logits) == 0 {
		return 0, ErrEmptyLogits
	}

	scaled := make([]float64, len(logits))
	floats.ScaleTo(scaled, 1/s.T, logits)
	probs := Softmax(scaled)

	cdf := make([]float64, len(probs))
	floats.CumSum(cdf, probs)

	u := s.Rand.Float64() * cdf[len(cdf)-1]
	for i, c := range cdf {
		if u < c {
			return i, nil
		}
	}
	return len(cdf) - 1, nil
}

// New erstellt den Sampler fuer die Generierungs-Politik
func New(deterministic bool, temperature float64, rng *rand.Rand) (Sampler, error) {
	if deterministic {
		return Greedy{}, nil
	}
	if !(temperature > 0) {
		return nil, fmt.Errorf("%w: %v", ErrTemperature, temperature)
	}
	if rng == nil {
		return nil, errors.New("sample: zufallsquelle fehlt")
	}
	return Temperature{T: temperature, Rand: rng}, nil
}

// SelectBatch wendet s auf jede Zeile einer (B, V) Logit-Matrix an
func SelectBatch(s Sampler, logits *mat.Dense) ([]int, error) {
	rows, _ := logits.Dims()
	out := make([]int, rows)
	for b := range rows {
		id, err := s.Sample(logits.RawRowView(b))
		if err != nil {
			return nil, err
		}
		out[b] = id
	}
	return out, nil
}

// LogSoftmax berechnet log(softmax(x)) numerisch stabil
func LogSoftmax(x []float64) []float64 {
	lse := floats.LogSumExp(x)
	out := make([]float64, len(x))
	copy(out, x)
	floats.AddConst(-lse, out)
	return out
}

// Softmax berechnet softmax(x) numerisch stabil
func Softmax(x []float64) []float64 {
	out := LogSoftmax(x)
	for i, v := range out {
		out[i] = math.Exp(v)
	}
	return out
}
