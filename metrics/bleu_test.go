package metrics

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"
)

func words(s string) []string { return strings.Fields(s) }

func TestBLEUIdentical(t *testing.T) {
	ref := words("a man is riding a horse on the beach")
	if got := BLEU1([][]string{ref}, ref); math.Abs(got-1) > 1e-12 {
		t.Errorf("BLEU1() = %v, erwartet 1", got)
	}
	if got := BLEU4([][]string{ref}, ref); math.Abs(got-1) > 1e-12 {
		t.Errorf("BLEU4() = %v, erwartet 1", got)
	}
}

func TestBLEUBrevityPenalty(t *testing.T) {
	refs := [][]string{words("the cat sat on the mat")}
	got := BLEU1(refs, words("the cat"))
	want := math.Exp(-2)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("BLEU1() = %v, erwartet %v", got, want)
	}
}

func TestBLEUClipping(t *testing.T) {
	refs := [][]string{words("the cat is on the mat"), words("there is a cat on the mat")}
	// "the" kommt in einer Referenz hoechstens zweimal vor
	got := BLEU1(refs, words("the the the the the the the"))
	want := 2.0 / 7.0
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("BLEU1() = %v, erwartet %v", got, want)
	}
}

func TestBLEU4Smoothing(t *testing.T) {
	refs := [][]string{words("a dog runs in the park")}
	cand := words("a dog walks near the park")

	// keine 4-Gramm-Treffer: (0 + 0.1) / 3
	got := BLEU4(refs, cand)
	want := 0.1 / 3
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("BLEU4() = %v, erwartet %v", got, want)
	}
}

func TestBLEUNoMatch(t *testing.T) {
	refs := [][]string{words("a b c")}
	for _, cand := range [][]string{nil, words("x y z")} {
		if got := BLEU1(refs, cand); got != 0 {
			t.Errorf("BLEU1(%v) = %v, erwartet 0", cand, got)
		}
		if got := BLEU4(refs, cand); got != 0 {
			t.Errorf("BLEU4(%v) = %v, erwartet 0", cand, got)
		}
	}
}

func TestBLEUBounds(t *testing.T) {
	vocabulary := words("a the man dog cat on in runs sits horse beach park")
	rng := rand.New(rand.NewPCG(1, 2))
	sentence := func() []string {
		n := rng.IntN(12)
		out := make([]string, n)
		for i := range out {
			out[i] = vocabulary[rng.IntN(len(vocabulary))]
		}
		return out
	}

	for range 500 {
		refs := [][]string{sentence(), sentence(), sentence()}
		cand := sentence()
		for name, score := range map[string]float64{"BLEU1": BLEU1(refs, cand), "BLEU4": BLEU4(refs, cand)} {
			if score < 0 || score > 1 || math.IsNaN(score) {
				t.Fatalf("%s(%v, %v) = %v, erwartet [0,1]", name, refs, cand, score)
			}
		}
	}
}
