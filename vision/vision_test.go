package vision

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

// createPNGBytes erzeugt PNG-Bytes aus einem einfarbigen Testbild
func createPNGBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			rgba.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want ImageFormat
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D}, FormatPNG},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWebP},
		{"riff ohne webp", []byte("RIFF\x00\x00\x00\x00WAVE"), FormatUnknown},
		{"leer", nil, FormatUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectFormat(tc.data); got != tc.want {
				t.Errorf("DetectFormat() = %v, erwartet %v", got, tc.want)
			}
		})
	}
}

func TestLoadImageFromBytes(t *testing.T) {
	img, err := LoadImageFromBytes(createPNGBytes(t, 40, 20, color.RGBA{255, 0, 0, 255}))
	if err != nil {
		t.Fatalf("LoadImageFromBytes() error = %v", err)
	}
	if img.Width() != 40 || img.Height() != 20 {
		t.Errorf("Groesse = %dx%d, erwartet 40x20", img.Width(), img.Height())
	}
	if img.Format != FormatPNG {
		t.Errorf("Format = %v, erwartet %v", img.Format, FormatPNG)
	}

	if _, err := LoadImageFromBytes([]byte{0, 0, 0, 0}); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("error = %v, erwartet %v", err, ErrUnknownFormat)
	}
}

func TestPreprocess(t *testing.T) {
	img, err := DecodeImage(bytes.NewReader(createPNGBytes(t, 30, 50, color.White)))
	if err != nil {
		t.Fatal(err)
	}

	out, err := Preprocess(img, 8)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	if len(out) != 3*8*8 {
		t.Fatalf("len = %d, erwartet %d", len(out), 3*8*8)
	}

	// weiss = 1.0 je Kanal
	for c := range 3 {
		want := (1 - ImageNetMean[c]) / ImageNetStd[c]
		got := out[c*64+27]
		if math.Abs(float64(got-want)) > 0.02 {
			t.Errorf("Kanal %d = %v, erwartet %v", c, got, want)
		}
	}
}

func TestPoolBackbone(t *testing.T) {
	b, err := Create("pool", Options{ImageSize: 4, GridSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if b.Dim() != 12 {
		t.Fatalf("Dim() = %d, erwartet 12", b.Dim())
	}

	img := make([]float32, 3*16)
	// linke Haelfte von Kanal 0 auf 1
	for y := range 4 {
		img[y*4] = 1
		img[y*4+1] = 1
	}

	feat, err := b.Features(img)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 0, 1, 0}
	for i, w := range want {
		if feat[i] != w {
			t.Errorf("feat[%d] = %v, erwartet %v", i, feat[i], w)
		}
	}

	if _, err := b.Features(img[:10]); !errors.Is(err, ErrShape) {
		t.Errorf("error = %v, erwartet %v", err, ErrShape)
	}
}

func TestStatsBackbone(t *testing.T) {
	b, err := Create("stats", Options{ImageSize: 2, GridSize: 1})
	if err != nil {
		t.Fatal(err)
	}

	img := []float32{0, 2, 0, 2, 1, 1, 1, 1, 5, 5, 5, 5}
	feat, err := b.Features(img)
	if err != nil {
		t.Fatal(err)
	}

	want := []float32{1, 1, 1, 0, 5, 0}
	if len(feat) != b.Dim() {
		t.Fatalf("len = %d, erwartet %d", len(feat), b.Dim())
	}
	for i, w := range want {
		if feat[i] != w {
			t.Errorf("feat[%d] = %v, erwartet %v", i, feat[i], w)
		}
	}
}

func TestRegistryUnknown(t *testing.T) {
	_, err := Create("resnet152", DefaultOptions())

	var regErr *RegistryError
	if !errors.As(err, &regErr) || !errors.Is(err, ErrBackboneNotRegistered) {
		t.Errorf("error = %v, erwartet RegistryError mit %v", err, ErrBackboneNotRegistered)
	}

	if got := DefaultRegistry.List(); len(got) != 2 || got[0] != "pool" || got[1] != "stats" {
		t.Errorf("List() = %v, erwartet [pool stats]", got)
	}
}
