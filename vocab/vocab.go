// MODUL: vocab
// ZWECK: Bidirektionale Abbildung zwischen Tokens und Token-IDs
// INPUT: Token-Liste (idx2word) aus Datei oder Speicher
// OUTPUT: Vocabulary mit ID/Token-Lookup und Spezial-Tokens
// NEBENEFFEKTE: Dateisystem-Zugriff bei Load/Save
// ABHAENGIGKEITEN: encoding/json (stdlib)
// HINWEISE: Reservierte Tokens <start>, <end>, <pad>, <unk> muessen enthalten sein;
//           unbekannte Woerter werden auf <unk> abgebildet
package vocab

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Reservierte Tokens
const (
	StartToken   = "<start>"
	EndToken     = "<end>"
	PadToken     = "<pad>"
	UnknownToken = "<unk>"
)

var (
	ErrDuplicateToken = errors.New("vocab: doppeltes token")
	ErrMissingToken   = errors.New("vocab: reserviertes token fehlt")
)

// Vocabulary bildet Tokens auf dichte IDs 0..Size()-1 ab
type Vocabulary struct {
	idx2word []string
	word2idx map[string]int

	start, end, pad, unk int
}

// file ist das Dateiformat einer Vokabular-Datei
type file struct {
	Idx2Word []string `json:"idx2word"`
}

// New erstellt ein Vokabular aus der Token-Liste; Position = ID
func New(tokens []string) (*Vocabulary, error) {
	v := &Vocabulary{
		idx2word: make([]string, len(tokens)),
		word2idx: make(map[string]int, len(tokens)),
	}
	copy(v.idx2word, tokens)

	for i, tok := range tokens {
		if _, ok := v.word2idx[tok]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateToken, tok)
		}
		v.word2idx[tok] = i
	}

	for _, r := range []struct {
		tok string
		dst *int
	}{
		{StartToken, &v.start},
		{EndToken, &v.end},
		{PadToken, &v.pad},
		{UnknownToken, &v.unk},
	} {
		id, ok := v.word2idx[r.tok]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingToken, r.tok)
		}
		*r.dst = id
	}

	return v, nil
}

// Build erstellt ein Vokabular aus Woertern; reservierte Tokens kommen zuerst
func Build(words []string) *Vocabulary {
	tokens := []string{PadToken, StartToken, EndToken, UnknownToken}
	seen := map[string]bool{PadToken: true, StartToken: true, EndToken: true, UnknownToken: true}
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			tokens = append(tokens, w)
		}
	}

	v, err := New(tokens)
	if err != nil {
		panic(err)
	}
	return v
}

// Load liest eine Vokabular-Datei im Format {"idx2word": [...]}
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vokabular lesen fehlgeschlagen: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vokabular %s: %w", path, err)
	}

	return New(f.Idx2Word)
}

// Save schreibt das Vokabular als JSON-Datei
func (v *Vocabulary) Save(path string) error {
	data, err := json.Marshal(file{Idx2Word: v.idx2word})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ID gibt die ID eines Tokens zurueck, unbekannte Tokens ergeben <unk>
func (v *Vocabulary) ID(token string) int {
	if id, ok := v.word2idx[token]; ok {
		return id
	}
	return v.unk
}

// Token gibt das Token einer ID zurueck
func (v *Vocabulary) Token(id int) string {
	if id < 0 || id >= len(v.idx2word) {
		return UnknownToken
	}
	return v.idx2word[id]
}

func (v *Vocabulary) Size() int    { return len(v.idx2word) }
func (v *Vocabulary) Start() int   { return v.start }
func (v *Vocabulary) End() int     { return v.end }
func (v *Vocabulary) Pad() int     { return v.pad }
func (v *Vocabulary) Unknown() int { return v.unk }

// IsSpecial meldet ob id eines der Start-, End- oder Pad-Tokens ist
func (v *Vocabulary) IsSpecial(id int) bool {
	return id == v.start || id == v.end || id == v.pad
}

// Tokens gibt eine Kopie der idx2word-Liste zurueck
func (v *Vocabulary) Tokens() []string {
	out := make([]string, len(v.idx2word))
	copy(out, v.idx2word)
	return out
}

// Encode bildet Woerter auf IDs ab und umschliesst sie mit <start> und <end>
func (v *Vocabulary) Encode(words []string) []int {
	ids := make([]int, 0, len(words)+2)
	ids = append(ids, v.start)
	for _, w := range words {
		ids = append(ids, v.ID(w))
	}
	return append(ids, v.end)
}

// Decode bildet IDs auf Tokens ab, ohne Filterung
func (v *Vocabulary) Decode(ids []int) []string {
	words := make([]string, len(ids))
	for i, id := range ids {
		words[i] = v.Token(id)
	}
	return words
}
