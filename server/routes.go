// routes.go - Router und Handler
// Enthaelt: GenerateRoutes(), CaptionHandler(), StatsHandler(), HealthHandler()

package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/7blacky7/captioner/envconfig"
	"github.com/7blacky7/captioner/stats"
	"github.com/7blacky7/captioner/vision"
)

// MaxRequestLength begrenzt max_length einer Anfrage, sofern die Konfiguration
// keinen groesseren Wert vorgibt
const MaxRequestLength = 128

// CaptionRequest ist der Body von POST /api/caption
type CaptionRequest struct {
	// Image ist das Bild als Base64 (PNG, JPEG, GIF oder WebP)
	Image string `json:"image" binding:"required"`

	MaxLength     *int     `json:"max_length,omitempty"`
	Deterministic *bool    `json:"deterministic,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
}

// CaptionResponse ist die Antwort von POST /api/caption
type CaptionResponse struct {
	Caption string   `json:"caption"`
	Tokens  []string `json:"tokens"`
}

// StatsResponse ist die Antwort von GET /api/stats
type StatsResponse struct {
	Experiment string      `json:"experiment"`
	Epochs     int         `json:"epochs"`
	Training   []float64   `json:"training_losses"`
	Validation []float64   `json:"val_losses"`
	Runs       []stats.Run `json:"runs,omitempty"`
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "User-Agent", "Accept", "X-Requested-With"}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		requestLogger(),
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "Captioner is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "Captioner is running") })

	r.GET("/api/health", s.HealthHandler)
	r.HEAD("/api/health", s.HealthHandler)
	r.POST("/api/caption", s.CaptionHandler)
	r.GET("/api/stats", s.StatsHandler)

	return r
}

// HealthHandler meldet Modell-Typ und Vokabulargroesse
func (s *Server) HealthHandler(c *gin.Context) {
	m := s.opts.Model
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"experiment": s.opts.Experiment,
		"model_type": m.Type,
		"backbone":   m.Backbone.Name(),
		"vocab_size": m.Vocab.Size(),
	})
}

// CaptionHandler erzeugt eine Caption fuer ein Base64-Bild
func (s *Server) CaptionHandler(c *gin.Context) {
	var req CaptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "image must be base64 encoded"})
		return
	}

	img, err := vision.LoadImageFromBytes(data)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pixels, err := vision.Preprocess(img, s.opts.ImageSize)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	g := s.opts.Generation
	if req.MaxLength != nil {
		if limit := max(s.opts.Generation.MaxLength, MaxRequestLength); *req.MaxLength > limit {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("max_length must be at most %d", limit)})
			return
		}
		g.MaxLength = *req.MaxLength
	}
	if req.Deterministic != nil {
		g.Deterministic = *req.Deterministic
	}
	if req.Temperature != nil {
		g.Temperature = *req.Temperature
	}
	if err := g.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	captions, err := s.opts.Model.Generate([][]float32{pixels}, g, s.opts.Rand)
	s.mu.Unlock()
	if err != nil {
		slog.Error("caption generation failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tokens := captions[0]
	if tokens == nil {
		tokens = []string{}
	}
	c.JSON(http.StatusOK, CaptionResponse{Caption: strings.Join(tokens, " "), Tokens: tokens})
}

// StatsHandler gibt die Verlust-Historien des Experiments zurueck
func (s *Server) StatsHandler(c *gin.Context) {
	if s.opts.Store == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no experiment store"})
		return
	}

	h, err := s.opts.Store.LoadHistory()
	if errors.Is(err, stats.ErrNoHistory) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := StatsResponse{
		Experiment: s.opts.Experiment,
		Epochs:     h.Len(),
		Training:   h.Training,
		Validation: h.Validation,
	}
	if s.opts.Runs != nil {
		runs, err := s.opts.Runs.Runs(s.opts.Experiment)
		if err != nil {
			slog.Warn("journal query failed", "error", err)
		}
		resp.Runs = runs
	}
	c.JSON(http.StatusOK, resp)
}
