package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7blacky7/captioner/config"
	"github.com/7blacky7/captioner/model"
	"github.com/7blacky7/captioner/stats"
	"github.com/7blacky7/captioner/vision"
	"github.com/7blacky7/captioner/vocab"
)

const testImageSize = 8

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, store *stats.Store) *Server {
	t.Helper()

	backbone, err := vision.NewPoolBackbone(vision.Options{ImageSize: testImageSize, GridSize: 2})
	require.NoError(t, err)
	m, err := model.New(config.Model{HiddenSize: 6, EmbeddingSize: 5, NumLayers: 1, ModelType: "RNN"},
		vocab.Build([]string{"a", "cat", "sleeps"}), backbone, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	s, err := New(Options{
		Experiment: "unit",
		Model:      m,
		Generation: config.Generation{MaxLength: 5, Deterministic: true},
		ImageSize:  testImageSize,
		Store:      store,
		Rand:       rand.New(rand.NewPCG(3, 4)),
	})
	require.NoError(t, err)
	return s
}

func pngBase64(t *testing.T) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 12, 10))
	for y := range 10 {
		for x := range 12 {
			img.Set(x, y, color.RGBA{uint8(x * 20), uint8(y * 20), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil).GenerateRoutes()
	w := do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "RNN", resp["model_type"])
	assert.Equal(t, "pool", resp["backbone"])
	assert.EqualValues(t, 7, resp["vocab_size"])
}

func TestCaption(t *testing.T) {
	h := newTestServer(t, nil).GenerateRoutes()

	body, err := json.Marshal(map[string]any{"image": pngBase64(t), "max_length": 3})
	require.NoError(t, err)
	w := do(t, h, http.MethodPost, "/api/caption", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CaptionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.LessOrEqual(t, len(resp.Tokens), 3)
	assert.Equal(t, strings.Join(resp.Tokens, " "), resp.Caption)
	for _, tok := range resp.Tokens {
		assert.NotContains(t, []string{vocab.StartToken, vocab.EndToken, vocab.PadToken}, tok)
	}

	again := do(t, h, http.MethodPost, "/api/caption", string(body))
	assert.JSONEq(t, w.Body.String(), again.Body.String())
}

func TestCaptionBadRequests(t *testing.T) {
	h := newTestServer(t, nil).GenerateRoutes()

	cases := map[string]string{
		"kein json":      "{",
		"ohne bild":      `{}`,
		"kein base64":    `{"image": "!!!"}`,
		"kein bild":      `{"image": "` + base64.StdEncoding.EncodeToString([]byte("hello")) + `"}`,
		"null laenge":    `{"image": "` + pngBase64(t) + `", "max_length": 0}`,
		"zu lang":        `{"image": "` + pngBase64(t) + `", "max_length": 100000}`,
		"temperatur < 0": `{"image": "` + pngBase64(t) + `", "deterministic": false, "temperature": -1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/caption", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestStats(t *testing.T) {
	store := stats.NewStore(t.TempDir(), "unit")
	h := newTestServer(t, store).GenerateRoutes()

	w := do(t, h, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, store.SaveHistory(stats.History{Training: []float64{3, 2.5}, Validation: []float64{3.2, 2.9}}))
	w = do(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Epochs)
	assert.Equal(t, []float64{2.9}, resp.Validation[1:])
}

func TestAllowedHost(t *testing.T) {
	assert.True(t, allowedHost("localhost"))
	assert.True(t, allowedHost("box.internal"))
	assert.False(t, allowedHost("example.com"))
}
