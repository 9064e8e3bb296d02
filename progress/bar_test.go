package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestBarRender(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "Epoch 1 training", 4)
	b.Add(1)
	b.Add(1)

	line := b.String()
	if !strings.Contains(line, " 50% ") || !strings.Contains(line, "2/4") {
		t.Errorf("String() = %q, erwartet 50%% und 2/4", line)
	}
	if !strings.HasPrefix(line, "Epoch 1 training        ") {
		t.Errorf("String() = %q, erwartet aufgefuellte Beschreibung", line)
	}

	b.Close()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Close() beendet die Zeile nicht")
	}
	if n := strings.Count(buf.String(), "\r"); n != 4 {
		t.Errorf("%d Zeichenvorgaenge, erwartet 4", n)
	}
}

func TestBarOverflowAndNil(t *testing.T) {
	b := NewBar(nil, "Testing...", 2)
	b.Add(5)
	b.Close()

	if line := b.String(); !strings.Contains(line, "100%") {
		t.Errorf("String() = %q, erwartet 100%%", line)
	}
}

func TestWriterDisabled(t *testing.T) {
	t.Setenv("CAPTION_NOPROGRESS", "1")
	if w := Writer(); w != nil {
		t.Errorf("Writer() = %v, erwartet nil", w)
	}
}
