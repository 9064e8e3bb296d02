// cmd_serve.go - HTTP-Server fuer ein trainiertes Experiment
// Hauptfunktionen: RunServer
package cmd

import (
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"github.com/7blacky7/captioner/envconfig"
	"github.com/7blacky7/captioner/server"
)

// RunServer - Startet den Caption-Server auf CAPTION_HOST
func RunServer(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.loadWeights(); err != nil {
		return err
	}

	opts := server.Options{
		Experiment: s.cfg.Name,
		Model:      s.model,
		Generation: s.cfg.Generation,
		ImageSize:  s.cfg.Dataset.ImageSize,
		Store:      s.store,
		Rand:       s.rng,
	}
	if s.journal != nil {
		opts.Runs = s.journal
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	slog.Info("server config", "env", envconfig.Values())
	ln, err := net.Listen("tcp", envconfig.Host())
	if err != nil {
		return err
	}
	return srv.Serve(cmd.Context(), ln)
}
