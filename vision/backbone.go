// MODUL: backbone
// ZWECK: Eingefrorene Feature-Extraktoren fuer vorverarbeitete Bilder
// INPUT: CHW-Tensor []float32 der Laenge 3*ImageSize*ImageSize
// OUTPUT: Feature-Vektor fester Laenge Dim()
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: gonum.org/v1/gonum/floats (extern)
// HINWEISE: Backbones haben keine trainierbaren Parameter, die Projektion
//           in den Embedding-Raum liegt im Caption-Modell

package vision

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrShape wird zurueckgegeben wenn ein Tensor nicht zur Backbone-Groesse passt
var ErrShape = errors.New("vision: tensor groesse passt nicht")

// Backbone extrahiert Features aus einem vorverarbeiteten Bild
type Backbone interface {
	// Features berechnet den Feature-Vektor fuer ein CHW-Bild
	Features(img []float32) ([]float32, error)

	// Dim gibt die Laenge des Feature-Vektors zurueck
	Dim() int

	// Name gibt den Registry-Namen zurueck
	Name() string
}

// Options konfiguriert einen Backbone
type Options struct {
	ImageSize int
	GridSize  int
}

// DefaultOptions gibt die Standard-Optionen zurueck
func DefaultOptions() Options {
	return Options{ImageSize: 256, GridSize: 4}
}

func (o Options) validate() error {
	if o.ImageSize <= 0 || o.GridSize <= 0 || o.GridSize > o.ImageSize {
		return fmt.Errorf("vision: ungueltige optionen image_size=%d grid_size=%d", o.ImageSize, o.GridSize)
	}
	return nil
}

// ============================================================================
// gridBackbone - gemeinsame Zellen-Aufteilung
// ============================================================================

// gridBackbone teilt jeden Kanal in GridSize x GridSize Zellen
type gridBackbone struct {
	opts Options
}

// cells ruft fn fuer jede (Kanal, Zelle) mit den Zellwerten auf
func (g gridBackbone) cells(img []float32, fn func(values []float64)) error {
	size, grid := g.opts.ImageSize, g.opts.GridSize
	if len(img) != 3*size*size {
		return fmt.Errorf("%w: %d, erwartet %d", ErrShape, len(img), 3*size*size)
	}

	plane := size * size
	buf := make([]float64, 0, (size/grid+1)*(size/grid+1))
	for c := range 3 {
		for gy := range grid {
			y0, y1 := gy*size/grid, (gy+1)*size/grid
			for gx := range grid {
				x0, x1 := gx*size/grid, (gx+1)*size/grid
				buf = buf[:0]
				for y := y0; y < y1; y++ {
					row := img[c*plane+y*size:]
					for x := x0; x < x1; x++ {
						buf = append(buf, float64(row[x]))
					}
				}
				fn(buf)
			}
		}
	}
	return nil
}

// ============================================================================
// PoolBackbone - Mittelwert je Zelle
// ============================================================================

// PoolBackbone mittelt jeden Kanal ueber ein GridSize x GridSize Raster
type PoolBackbone struct {
	gridBackbone
}

// NewPoolBackbone erstellt einen Pooling-Backbone
func NewPoolBackbone(opts Options) (*PoolBackbone, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &PoolBackbone{gridBackbone{opts}}, nil
}

func (p *PoolBackbone) Name() string { return "pool" }
func (p *PoolBackbone) Dim() int     { return 3 * p.opts.GridSize * p.opts.GridSize }

// Features implementiert Backbone
func (p *PoolBackbone) Features(img []float32) ([]float32, error) {
	out := make([]float32, 0, p.Dim())
	err := p.cells(img, func(values []float64) {
		out = append(out, float32(floats.Sum(values)/float64(len(values))))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// StatsBackbone - Mittelwert und Standardabweichung je Zelle
// ============================================================================

// StatsBackbone liefert je Zelle Mittelwert und Standardabweichung
type StatsBackbone struct {
	gridBackbone
}

// NewStatsBackbone erstellt einen Statistik-Backbone
func NewStatsBackbone(opts Options) (*StatsBackbone, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &StatsBackbone{gridBackbone{opts}}, nil
}

func (s *StatsBackbone) Name() string { return "stats" }
func (s *StatsBackbone) Dim() int     { return 2 * 3 * s.opts.GridSize * s.opts.GridSize }

// Features implementiert Backbone
func (s *StatsBackbone) Features(img []float32) ([]float32, error) {
	out := make([]float32, 0, s.Dim())
	err := s.cells(img, func(values []float64) {
		n := float64(len(values))
		mean := floats.Sum(values) / n
		var ss float64
		for _, v := range values {
			ss += (v - mean) * (v - mean)
		}
		out = append(out, float32(mean), float32(math.Sqrt(ss/n)))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
