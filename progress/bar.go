// bar.go - Fortschrittsbalken fuer Trainings-, Validierungs- und Test-Durchlaeufe
//
// Dieses Modul enthaelt:
// - Bar: einzeiliger Balken mit Beschreibung, Prozent, Zaehler und Laufzeit
// - Writer: Ausgabeziel fuer Balken (nil wenn kein Terminal oder deaktiviert)
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/7blacky7/captioner/envconfig"
)

const (
	descWidth = 24
	barWidth  = 30
)

// Bar zeichnet den Fortschritt einer Schleife mit bekannter Laenge.
// Ein Bar mit nil-Writer ist ein No-op.
type Bar struct {
	mu    sync.Mutex
	w     io.Writer
	desc  string
	total int
	n     int
	start time.Time
}

// NewBar erstellt einen Balken und zeichnet ihn sofort
func NewBar(w io.Writer, desc string, total int) *Bar {
	b := &Bar{w: w, desc: desc, total: total, start: time.Now()}
	b.render()
	return b
}

// Add erhoeht den Zaehler um n
func (b *Bar) Add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.n += n
	b.render()
}

// Close zeichnet den Endstand und beendet die Zeile
func (b *Bar) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.w == nil {
		return
	}
	b.render()
	fmt.Fprintln(b.w)
}

// String gibt die aktuelle Zeile ohne Steuerzeichen zurueck
func (b *Bar) String() string {
	desc := runewidth.Truncate(b.desc, descWidth, "…")
	desc = runewidth.FillRight(desc, descWidth)

	if b.total <= 0 {
		return fmt.Sprintf("%s %d [%s]", desc, b.n, time.Since(b.start).Round(time.Second))
	}

	frac := min(float64(b.n)/float64(b.total), 1)
	filled := int(frac * barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", barWidth-filled)

	return fmt.Sprintf("%s %3d%% |%s| %d/%d [%s]", desc, int(frac*100), bar, b.n, b.total, time.Since(b.start).Round(time.Second))
}

func (b *Bar) render() {
	if b.w == nil {
		return
	}
	fmt.Fprint(b.w, "\r"+b.String())
}

// Writer gibt stderr zurueck wenn es ein Terminal ist und
// CAPTION_NOPROGRESS nicht gesetzt ist, sonst nil
func Writer() io.Writer {
	if envconfig.NoProgress() || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return os.Stderr
}
