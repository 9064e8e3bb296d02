package sample

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"
)

func TestGreedy(t *testing.T) {
	cases := []struct {
		name   string
		logits []float64
		want   int
	}{
		{"eindeutig", []float64{0.1, 3, -1}, 1},
		{"gleichstand", []float64{2, 5, 5, 1}, 1},
		{"alle gleich", []float64{0, 0, 0}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Greedy{}.Sample(tc.logits)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("Sample() = %d, erwartet %d", got, tc.want)
			}
		})
	}

	if _, err := (Greedy{}).Sample(nil); !errors.Is(err, ErrEmptyLogits) {
		t.Errorf("error = %v, erwartet %v", err, ErrEmptyLogits)
	}
}

func TestTemperatureDeterministicWithSeed(t *testing.T) {
	logits := []float64{0.5, 1, 0.2, 0.9}

	draw := func() []int {
		s := Temperature{T: 0.8, Rand: rand.New(rand.NewPCG(42, 7))}
		out := make([]int, 50)
		for i := range out {
			id, err := s.Sample(logits)
			if err != nil {
				t.Fatal(err)
			}
			out[i] = id
		}
		return out
	}

	if diff := cmp.Diff(draw(), draw()); diff != "" {
		t.Errorf("gleicher Seed, unterschiedliche Ziehungen (-a +b):\n%s", diff)
	}
}

func TestTemperatureConcentrates(t *testing.T) {
	s := Temperature{T: 0.01, Rand: rand.New(rand.NewPCG(1, 2))}
	for range 100 {
		id, err := s.Sample([]float64{0, 1, 3, 2})
		if err != nil {
			t.Fatal(err)
		}
		if id != 2 {
			t.Fatalf("Sample() = %d, erwartet 2 bei sehr niedriger Temperatur", id)
		}
	}
}

func TestInvalidTemperature(t *testing.T) {
	for _, temp := range []float64{0, -1, math.NaN()} {
		if _, err := (Temperature{T: temp, Rand: rand.New(rand.NewPCG(1, 1))}).Sample([]float64{1, 2}); !errors.Is(err, ErrTemperature) {
			t.Errorf("T=%v: error = %v, erwartet %v", temp, err, ErrTemperature)
		}
		if _, err := New(false, temp, rand.New(rand.NewPCG(1, 1))); !errors.Is(err, ErrTemperature) {
			t.Errorf("New(T=%v): error = %v, erwartet %v", temp, err, ErrTemperature)
		}
	}

	s, err := New(true, 0, nil)
	if err != nil {
		t.Fatalf("New(deterministic) error = %v", err)
	}
	if _, ok := s.(Greedy); !ok {
		t.Errorf("New(deterministic) = %T, erwartet Greedy", s)
	}
}

func TestSelectBatchAndSoftmax(t *testing.T) {
	logits := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 0, 4,
		0, 2, 2,
	})

	ids, err := SelectBatch(Greedy{}, logits)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 2, 1}, ids); diff != "" {
		t.Errorf("SelectBatch() mismatch (-want +got):\n%s", diff)
	}

	p := Softmax([]float64{1000, 1000})
	if math.Abs(p[0]-0.5) > 1e-12 || math.Abs(p[1]-0.5) > 1e-12 {
		t.Errorf("Softmax() = %v, erwartet [0.5 0.5]", p)
	}
}
