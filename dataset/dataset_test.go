package dataset

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/7blacky7/captioner/config"
	"github.com/7blacky7/captioner/vocab"
)

func TestTokenize(t *testing.T) {
	cases := map[string][]string{
		"A man riding a horse.":       {"a", "man", "riding", "a", "horse", "."},
		"The dog isn't sleeping":      {"the", "dog", "is", "n't", "sleeping"},
		"A cat's toy, on the floor!":  {"a", "cat", "'s", "toy", ",", "on", "the", "floor", "!"},
		"  Two   spaces  ":            {"two", "spaces"},
		"":                            nil,
	}

	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			if diff := cmp.Diff(want, Tokenize(in)); diff != "" {
				t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", in, diff)
			}
		})
	}
}

func TestBatchValidate(t *testing.T) {
	ok := &Batch{Images: make([][]float32, 2), Captions: [][]int{{1, 2}, {1, 0}}, ImageIDs: []int64{1, 2}}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	bad := &Batch{Images: make([][]float32, 2), Captions: [][]int{{1, 2}, {1}}, ImageIDs: []int64{1, 2}}
	if err := bad.Validate(); !errors.Is(err, ErrBatchShape) {
		t.Errorf("Validate() error = %v, erwartet %v", err, ErrBatchShape)
	}
}

func TestSliceLoaderCancel(t *testing.T) {
	l := SliceLoader{{}, {}, {}}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var n int
	var lastErr error
	for _, err := range l.Batches(ctx) {
		if err != nil {
			lastErr = err
			break
		}
		n++
		if n == 2 {
			cancel()
		}
	}

	if n != 2 || !errors.Is(lastErr, context.Canceled) {
		t.Errorf("n = %d, err = %v, erwartet 2 Batches und context.Canceled", n, lastErr)
	}
}

func writeDataset(t *testing.T) (dir, annPath string) {
	t.Helper()
	dir = t.TempDir()

	for i := 1; i <= 3; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 12, 10))
		for y := range 10 {
			for x := range 12 {
				img.Set(x, y, color.RGBA{uint8(40 * i), 0, 0, 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("img%d.png", i)))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}

	annPath = filepath.Join(dir, "captions.json")
	ann := `{
  "images": [
    {"id": 1, "file_name": "img1.png"},
    {"id": 2, "file_name": "img2.png"},
    {"id": 3, "file_name": "img3.png"}
  ],
  "annotations": [
    {"image_id": 1, "caption": "A red square."},
    {"image_id": 1, "caption": "A small red box"},
    {"image_id": 2, "caption": "Dark red"},
    {"image_id": 3, "caption": "A very bright red square picture"}
  ]
}`
	if err := os.WriteFile(annPath, []byte(ann), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, annPath
}

func TestCocoLoader(t *testing.T) {
	dir, annPath := writeDataset(t)

	ann, err := LoadAnnotations(annPath)
	if err != nil {
		t.Fatal(err)
	}
	v := vocab.Build(ann.Words())

	refs := ann.References(1)
	if len(refs) != 2 || refs[0][1] != "red" {
		t.Errorf("References(1) = %v", refs)
	}

	l, err := NewCocoLoader(config.Dataset{ImagesRootDir: dir, ImageSize: 4, BatchSize: 3, NumWorkers: 2}, annPath, v, nil)
	if err != nil {
		t.Fatal(err)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, erwartet 2", l.Len())
	}

	var sizes []int
	for b, err := range l.Batches(t.Context()) {
		if err != nil {
			t.Fatal(err)
		}
		if err := b.Validate(); err != nil {
			t.Fatal(err)
		}
		sizes = append(sizes, b.Size())
		for i, img := range b.Images {
			if len(img) != 3*4*4 {
				t.Errorf("bild %d hat laenge %d, erwartet 48", i, len(img))
			}
		}
		for _, c := range b.Captions {
			if c[0] != v.Start() {
				t.Errorf("caption beginnt mit %d, erwartet <start>", c[0])
			}
		}
	}
	if diff := cmp.Diff([]int{3, 1}, sizes); diff != "" {
		t.Errorf("Batch-Groessen mismatch (-want +got):\n%s", diff)
	}
}

func TestCocoLoaderMissingImage(t *testing.T) {
	dir, annPath := writeDataset(t)
	if err := os.Remove(filepath.Join(dir, "img2.png")); err != nil {
		t.Fatal(err)
	}

	l, err := NewCocoLoader(config.Dataset{ImagesRootDir: dir, ImageSize: 4, BatchSize: 4, NumWorkers: 1}, annPath, vocab.Build(nil), nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, err := range l.Batches(t.Context()) {
		if err == nil {
			t.Error("Erwartet Fehler bei fehlender Bilddatei")
		}
	}
}
