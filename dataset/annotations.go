package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/dlclark/regexp2"
)

// tokenPattern trennt Woerter, Kontraktionen ("n't", "'s") und Satzzeichen
var tokenPattern = regexp2.MustCompile(`\w+(?=n't\b)|n't\b|'\w+|\w+(?:[-.]\w+)*|[^\w\s]`, regexp2.None)

// Tokenize zerlegt eine Caption in kleingeschriebene Tokens
func Tokenize(caption string) []string {
	var tokens []string
	m, err := tokenPattern.FindStringMatch(strings.ToLower(caption))
	for err == nil && m != nil {
		tokens = append(tokens, m.String())
		m, err = tokenPattern.FindNextMatch(m)
	}
	return tokens
}

// Pair ist ein (Bild, Caption)-Beispiel
type Pair struct {
	ImageID int64
	Tokens  []string
}

// Annotations sind die Bilder und Captions einer COCO-Annotationsdatei
type Annotations struct {
	Files map[int64]string
	Pairs []Pair

	refs map[int64][][]string
}

type cocoFile struct {
	Images []struct {
		ID       int64  `json:"id"`
		FileName string `json:"file_name"`
	} `json:"images"`
	Annotations []struct {
		ImageID int64  `json:"image_id"`
		Caption string `json:"caption"`
	} `json:"annotations"`
}

// LoadAnnotations liest eine COCO-Annotationsdatei
func LoadAnnotations(path string) (*Annotations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("annotationen lesen fehlgeschlagen: %w", err)
	}

	var f cocoFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("annotationen %s: %w", path, err)
	}

	a := &Annotations{
		Files: make(map[int64]string, len(f.Images)),
		refs:  make(map[int64][][]string),
	}
	for _, img := range f.Images {
		a.Files[img.ID] = img.FileName
	}
	for _, ann := range f.Annotations {
		if _, ok := a.Files[ann.ImageID]; !ok {
			return nil, fmt.Errorf("annotationen %s: bild %d ohne eintrag in images", path, ann.ImageID)
		}
		tokens := Tokenize(ann.Caption)
		a.Pairs = append(a.Pairs, Pair{ImageID: ann.ImageID, Tokens: tokens})
		a.refs[ann.ImageID] = append(a.refs[ann.ImageID], tokens)
	}
	return a, nil
}

// References implementiert das References-Interface
func (a *Annotations) References(imageID int64) [][]string {
	return a.refs[imageID]
}

// Words gibt alle Tokens aller Captions in stabiler Reihenfolge zurueck
func (a *Annotations) Words() []string {
	var words []string
	for _, p := range a.Pairs {
		words = append(words, p.Tokens...)
	}
	return slices.Clip(words)
}
