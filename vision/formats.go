// MODUL: formats
// ZWECK: Bildformat-Erkennung fuer Trainings- und Upload-Bilder
// INPUT: Bild-Bytes
// OUTPUT: ImageFormat, Fehler bei unbekanntem Format
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: bytes (stdlib)
// HINWEISE: Erkennung ueber Magic-Bytes, unterstuetzt JPEG/PNG/WebP

package vision

import (
	"bytes"
	"errors"
)

// ImageFormat ist ein erkanntes Bildformat
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "jpeg"
	FormatPNG     ImageFormat = "png"
	FormatWebP    ImageFormat = "webp"
	FormatUnknown ImageFormat = "unknown"
)

// ErrUnknownFormat wird zurueckgegeben wenn die Magic-Bytes keinem Format entsprechen
var ErrUnknownFormat = errors.New("vision: unbekanntes bildformat")

var signatures = []struct {
	format ImageFormat
	magic  []byte
}{
	{FormatJPEG, []byte{0xFF, 0xD8, 0xFF}},
	{FormatPNG, []byte{0x89, 'P', 'N', 'G'}},
}

// DetectFormat erkennt das Bildformat anhand der Magic-Bytes
func DetectFormat(data []byte) ImageFormat {
	for _, s := range signatures {
		if bytes.HasPrefix(data, s.magic) {
			return s.format
		}
	}

	// RIFF....WEBP
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return FormatWebP
	}

	return FormatUnknown
}


func (f ImageFormat) String() string {
	return string(f)
}
