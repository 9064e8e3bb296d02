// cmd_caption.go - Captions fuer Bilddateien
// Hauptfunktionen: CaptionHandler
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/7blacky7/captioner/vision"
)

// CaptionHandler - Erzeugt je eine Caption pro Bilddatei in einer Batch
func CaptionHandler(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.loadWeights(); err != nil {
		return err
	}
	s.model.Eval()

	paths := args[1:]
	images := make([][]float32, len(paths))
	for i, path := range paths {
		img, err := vision.LoadImage(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if images[i], err = vision.Preprocess(img, s.cfg.Dataset.ImageSize); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	captions, err := s.model.Generate(images, s.cfg.Generation, s.rng)
	if err != nil {
		return err
	}

	for i, path := range paths {
		if len(paths) == 1 {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(captions[i], " "))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, strings.Join(captions[i], " "))
	}
	return nil
}
