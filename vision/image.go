// MODUL: image
// ZWECK: Bilder laden, dekodieren und fuer den Encoder vorbereiten
// INPUT: Dateipfad, Bytes oder io.Reader
// OUTPUT: Image (RGBA) bzw. normalisierter CHW-Tensor als []float32
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei LoadImage
// ABHAENGIGKEITEN: golang.org/x/image/draw, golang.org/x/image/webp (extern), image/jpeg, image/png
// HINWEISE: Preprocess = quadratisches Resize (BiLinear) + ImageNet-Normalisierung

package vision

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageNet-Normalisierung der vortrainierten Backbones
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Image ist ein dekodiertes Bild
type Image struct {
	RGBA   *image.RGBA
	Format ImageFormat
}

// Width gibt die Breite in Pixeln zurueck
func (img *Image) Width() int { return img.RGBA.Bounds().Dx() }

// Height gibt die Hoehe in Pixeln zurueck
func (img *Image) Height() int { return img.RGBA.Bounds().Dy() }

// LoadImage laedt ein Bild von einem Dateipfad
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bild lesen fehlgeschlagen: %w", err)
	}

	img, err := LoadImageFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageFromBytes dekodiert ein Bild aus Byte-Daten
func LoadImageFromBytes(data []byte) (*Image, error) {
	format := DetectFormat(data)
	if format == FormatUnknown {
		return nil, ErrUnknownFormat
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bild dekodieren fehlgeschlagen: %w", err)
	}

	rgba, ok := src.(*image.RGBA)
	if !ok {
		b := src.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}

	return &Image{RGBA: rgba, Format: format}, nil
}

// DecodeImage dekodiert ein Bild aus einem io.Reader
func DecodeImage(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("daten lesen fehlgeschlagen: %w", err)
	}
	return LoadImageFromBytes(data)
}

// Resize skaliert das Bild auf width x height
func (img *Image) Resize(width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("ungueltige Groesse: %dx%d", width, height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img.RGBA, img.RGBA.Bounds(), draw.Src, nil)

	return &Image{RGBA: dst, Format: img.Format}, nil
}

// Preprocess skaliert auf size x size und normalisiert mit ImageNet mean/std.
// Ergebnis im CHW Layout mit Laenge 3*size*size.
func Preprocess(img *Image, size int) ([]float32, error) {
	resized, err := img.Resize(size, size)
	if err != nil {
		return nil, err
	}

	plane := size * size
	out := make([]float32, 3*plane)
	pix := resized.RGBA.Pix
	stride := resized.RGBA.Stride

	for y := range size {
		for x := range size {
			off := y*stride + x*4
			idx := y*size + x
			for c := range 3 {
				v := float32(pix[off+c]) / 255
				out[c*plane+idx] = (v - ImageNetMean[c]) / ImageNetStd[c]
			}
		}
	}

	return out, nil
}
