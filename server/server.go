// MODUL: server
// ZWECK: HTTP-Schnittstelle fuer ein trainiertes Caption-Modell
// INPUT: Geladenes CaptionModel, Generierungs-Politik, Store des Experiments
// OUTPUT: JSON-Antworten auf /api/caption, /api/stats, /api/health
// NEBENEFFEKTE: Lauscht auf einem net.Listener bis der Kontext endet
// ABHAENGIGKEITEN: gin-gonic/gin, gin-contrib/cors, model, vision, stats
// HINWEISE: Generierung ist per Mutex serialisiert, das Modell ist nicht
//           nebenlaeufig nutzbar

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/7blacky7/captioner/config"
	"github.com/7blacky7/captioner/model"
	"github.com/7blacky7/captioner/stats"
)

// RunLister liefert die Journal-Laeufe eines Experiments
type RunLister interface {
	Runs(experiment string) ([]stats.Run, error)
}

// Options konfiguriert einen Server
type Options struct {
	Experiment string
	Model      *model.CaptionModel
	Generation config.Generation
	ImageSize  int
	Store      *stats.Store
	Runs       RunLister
	Rand       *rand.Rand
}

// Server beantwortet Caption- und Statistik-Anfragen
type Server struct {
	addr net.Addr
	opts Options

	// mu schuetzt model und rng
	mu sync.Mutex
}

// New erstellt einen Server
func New(opts Options) (*Server, error) {
	if opts.Model == nil {
		return nil, errors.New("server: kein modell")
	}
	if err := opts.Generation.Validate(); err != nil {
		return nil, err
	}
	if opts.ImageSize <= 0 {
		return nil, fmt.Errorf("server: ungueltige bildgroesse %d", opts.ImageSize)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	opts.Model.Eval()
	return &Server{opts: opts}, nil
}

// Serve beantwortet Anfragen auf ln bis ctx endet
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.addr = ln.Addr()

	srvr := &http.Server{
		Handler:           s.GenerateRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("Listening on %s (experiment %s)", ln.Addr(), s.opts.Experiment))
		errc <- srvr.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
