// MODUL: checkpoint
// ZWECK: Modell- und Optimierer-Zustand im safetensors-Layout speichern und laden
// INPUT: Checkpoint (Gewichte, Adam-Zustand, Metadaten), Ziel-DType
// OUTPUT: Datei bzw. io.Writer mit 8-Byte-Headerlaenge, JSON-Header, Tensor-Daten
// NEBENEFFEKTE: Save schreibt atomar ueber eine temporaere Datei
// ABHAENGIGKEITEN: github.com/x448/float16 (extern), gonum.org/v1/gonum/mat, encoding/json
// HINWEISE: Modell-Tensoren unter "model.<param>", Optimierer unter
//           "optimizer.<param>.m" / ".v"; die Epochenzahl wird nicht gespeichert

package checkpoint

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/captioner/nn"
)

const (
	FormatVersion = "captioner/v1"

	modelPrefix     = "model."
	optimizerPrefix = "optimizer."
	metadataKey     = "__metadata__"
	stepKey         = "optimizer.step"

	maxHeaderSize = 64 << 20
)

// DType ist der Speicher-Typ der Tensoren
type DType string

const (
	F64 DType = "F64"
	F32 DType = "F32"
	F16 DType = "F16"
)

// Valid meldet ob d ein unterstuetzter Speicher-Typ ist
func (d DType) Valid() bool {
	return d == F64 || d == F32 || d == F16
}

func (d DType) size() int {
	switch d {
	case F64:
		return 8
	case F16:
		return 2
	default:
		return 4
	}
}

// FormatError beschreibt eine beschaedigte oder fremde Checkpoint-Datei
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "checkpoint: ungueltiges format: " + e.Reason
}

func formatErr(format string, args ...any) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// Checkpoint ist ein Schnappschuss von Modell und Optimierer
type Checkpoint struct {
	Model     map[string]*mat.Dense
	Optimizer nn.AdamState
	Metadata  map[string]string
}

type tensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// ============================================================================
// Schreiben
// ============================================================================

// Save schreibt den Checkpoint atomar nach path
func Save(path string, c *Checkpoint, dtype DType) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	w := bufio.NewWriter(f)
	if err := Write(w, c, dtype); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), path)
}

// Write serialisiert den Checkpoint nach w
func Write(w io.Writer, c *Checkpoint, dtype DType) error {
	if !dtype.Valid() {
		return fmt.Errorf("checkpoint: unbekannter dtype %q", dtype)
	}

	tensors := make(map[string]*mat.Dense)
	for name, m := range c.Model {
		tensors[modelPrefix+name] = m
	}
	for name, m := range c.Optimizer.M {
		tensors[optimizerPrefix+name+".m"] = m
	}
	for name, m := range c.Optimizer.V {
		tensors[optimizerPrefix+name+".v"] = m
	}

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	meta := map[string]string{
		"format": FormatVersion,
		stepKey:  strconv.Itoa(c.Optimizer.Step),
	}
	for k, v := range c.Metadata {
		meta[k] = v
	}

	header := map[string]any{metadataKey: meta}
	var offset int64
	for _, name := range names {
		r, cols := tensors[name].Dims()
		n := int64(r * cols * dtype.size())
		header[name] = tensorInfo{DType: dtype, Shape: []int{r, cols}, DataOffsets: [2]int64{offset, offset + n}}
		offset += n
	}

	data, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Header auf 8 Byte auffuellen
	if pad := (8 - len(data)%8) % 8; pad > 0 {
		data = append(data, []byte(strings.Repeat(" ", pad))...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(data))); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}

	for _, name := range names {
		if err := writeTensor(w, tensors[name], dtype); err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
	}
	return nil
}

func writeTensor(w io.Writer, m *mat.Dense, dtype DType) error {
	r, c := m.Dims()
	buf := make([]byte, 0, r*c*dtype.size())
	for i := range r {
		for j := range c {
			v := m.At(i, j)
			switch dtype {
			case F64:
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
			case F16:
				buf = binary.LittleEndian.AppendUint16(buf, float16.Fromfloat32(float32(v)).Bits())
			default:
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
			}
		}
	}
	_, err := w.Write(buf)
	return err
}

// ============================================================================
// Lesen
// ============================================================================

// Load liest einen Checkpoint von path
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Read deserialisiert einen Checkpoint aus r
func Read(r io.Reader) (*Checkpoint, error) {
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, formatErr("header-laenge: %v", err)
	}
	if size == 0 || size > maxHeaderSize {
		return nil, formatErr("header-laenge %d", size)
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, formatErr("header: %v", err)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, formatErr("header: %v", err)
	}

	c := &Checkpoint{
		Model:     make(map[string]*mat.Dense),
		Optimizer: nn.AdamState{M: make(map[string]*mat.Dense), V: make(map[string]*mat.Dense)},
		Metadata:  make(map[string]string),
	}

	if m, ok := header[metadataKey]; ok {
		if err := json.Unmarshal(m, &c.Metadata); err != nil {
			return nil, formatErr("metadaten: %v", err)
		}
		delete(header, metadataKey)
	}
	if c.Metadata["format"] != FormatVersion {
		return nil, formatErr("format %q, erwartet %q", c.Metadata["format"], FormatVersion)
	}
	if s, ok := c.Metadata[stepKey]; ok {
		step, err := strconv.Atoi(s)
		if err != nil {
			return nil, formatErr("%s: %v", stepKey, err)
		}
		c.Optimizer.Step = step
	}
	delete(c.Metadata, "format")
	delete(c.Metadata, stepKey)

	infos := make(map[string]tensorInfo, len(header))
	names := make([]string, 0, len(header))
	for name, msg := range header {
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, formatErr("tensor %s: %v", name, err)
		}
		infos[name] = info
		names = append(names, name)
	}
	// Daten liegen in aufsteigender Offset-Reihenfolge
	slices.SortFunc(names, func(a, b string) int {
		return int(infos[a].DataOffsets[0] - infos[b].DataOffsets[0])
	})

	var pos int64
	for _, name := range names {
		info := infos[name]
		if info.DataOffsets[0] != pos {
			return nil, formatErr("tensor %s beginnt bei %d, erwartet %d", name, info.DataOffsets[0], pos)
		}
		m, err := readTensor(r, info)
		if err != nil {
			return nil, formatErr("tensor %s: %v", name, err)
		}
		pos = info.DataOffsets[1]

		if err := c.place(name, m); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func readTensor(r io.Reader, info tensorInfo) (*mat.Dense, error) {
	if !info.DType.Valid() {
		return nil, fmt.Errorf("dtype %q", info.DType)
	}
	if len(info.Shape) != 2 || info.Shape[0] <= 0 || info.Shape[1] <= 0 {
		return nil, fmt.Errorf("form %v", info.Shape)
	}

	n := info.Shape[0] * info.Shape[1]
	if int64(n*info.DType.size()) != info.DataOffsets[1]-info.DataOffsets[0] {
		return nil, fmt.Errorf("offsets %v passen nicht zu form %v", info.DataOffsets, info.Shape)
	}

	buf := make([]byte, n*info.DType.size())
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	data := make([]float64, n)
	for i := range data {
		switch info.DType {
		case F64:
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
		case F16:
			data[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32())
		default:
			data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
		}
	}
	return mat.NewDense(info.Shape[0], info.Shape[1], data), nil
}

// place ordnet einen Tensor anhand seines Namens Modell oder Optimierer zu
func (c *Checkpoint) place(name string, m *mat.Dense) error {
	switch {
	case strings.HasPrefix(name, modelPrefix):
		c.Model[strings.TrimPrefix(name, modelPrefix)] = m
	case strings.HasPrefix(name, optimizerPrefix) && strings.HasSuffix(name, ".m"):
		c.Optimizer.M[strings.TrimSuffix(strings.TrimPrefix(name, optimizerPrefix), ".m")] = m
	case strings.HasPrefix(name, optimizerPrefix) && strings.HasSuffix(name, ".v"):
		c.Optimizer.V[strings.TrimSuffix(strings.TrimPrefix(name, optimizerPrefix), ".v")] = m
	default:
		return formatErr("unbekannter tensor %s", name)
	}
	return nil
}
