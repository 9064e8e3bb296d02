// MODUL: metrics
// ZWECK: Satz-BLEU fuer generierte Captions gegen mehrere Referenzen
// INPUT: Referenz-Token-Listen, Kandidaten-Token-Liste
// OUTPUT: BLEU-1 bzw. BLEU-4 im Bereich [0, 1]
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: math, strings (stdlib)
// HINWEISE: Geclippte n-Gramm-Praezision bis Ordnung 4, Glaettung durch
//           epsilon 0.1 fuer Ordnungen ohne Treffer, Brevity-Penalty gegen die
//           naechstgelegene Referenzlaenge; ohne Unigramm-Treffer ist das Ergebnis 0

package metrics

import (
	"math"
	"strings"
)

const (
	maxOrder = 4
	epsilon  = 0.1
)

// BLEU1 bewertet nur die Unigramm-Praezision
func BLEU1(references [][]string, candidate []string) float64 {
	return sentenceBLEU(references, candidate, [maxOrder]float64{1, 0, 0, 0})
}

// BLEU4 bewertet nur die 4-Gramm-Praezision
func BLEU4(references [][]string, candidate []string) float64 {
	return sentenceBLEU(references, candidate, [maxOrder]float64{0, 0, 0, 1})
}

func sentenceBLEU(references [][]string, candidate []string, weights [maxOrder]float64) float64 {
	if len(candidate) == 0 || len(references) == 0 {
		return 0
	}

	var numerators, denominators [maxOrder]int
	for n := 1; n <= maxOrder; n++ {
		numerators[n-1], denominators[n-1] = clippedCounts(references, candidate, n)
	}

	if numerators[0] == 0 {
		return 0
	}

	var score float64
	for i, w := range weights {
		if w == 0 {
			continue
		}
		p := float64(numerators[i]) / float64(denominators[i])
		if numerators[i] == 0 {
			p = epsilon / float64(denominators[i])
		}
		score += w * math.Log(p)
	}

	return math.Min(1, brevityPenalty(references, len(candidate))*math.Exp(score))
}

// clippedCounts gibt die geclippten Treffer und die Anzahl der Kandidaten-n-Gramme zurueck
func clippedCounts(references [][]string, candidate []string, n int) (int, int) {
	counts := ngrams(candidate, n)

	maxRef := make(map[string]int, len(counts))
	for _, ref := range references {
		for gram, c := range ngrams(ref, n) {
			if _, ok := counts[gram]; ok && c > maxRef[gram] {
				maxRef[gram] = c
			}
		}
	}

	var clipped, total int
	for gram, c := range counts {
		clipped += min(c, maxRef[gram])
		total += c
	}
	return clipped, max(1, total)
}

func ngrams(tokens []string, n int) map[string]int {
	out := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		out[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return out
}

// brevityPenalty nutzt die Referenzlaenge mit minimalem Abstand, bei Gleichstand die kuerzere
func brevityPenalty(references [][]string, c int) float64 {
	r := len(references[0])
	for _, ref := range references[1:] {
		d, best := abs(len(ref)-c), abs(r-c)
		if d < best || (d == best && len(ref) < r) {
			r = len(ref)
		}
	}

	if c > r {
		return 1
	}
	return math.Exp(1 - float64(r)/float64(c))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
