// cmd_train.go - Training und Test eines Experiments
// Hauptfunktionen: TrainHandler, TestHandler
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/7blacky7/captioner/train"
)

// TrainHandler - Trainiert das Experiment bis experiment.num_epochs
func TrainHandler(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer s.Close()

	flags := cmd.Flags()
	if flags.Changed("resume") {
		s.cfg.Experiment.Load, _ = flags.GetBool("resume")
	}
	if noSave, _ := flags.GetBool("no-save"); noSave {
		s.cfg.Experiment.Save = false
	}
	if epochs, _ := flags.GetInt("epochs"); epochs > 0 {
		s.cfg.Experiment.NumEpochs = epochs
	}

	trainL, valL, testL, err := s.loaders()
	if err != nil {
		return err
	}

	exp, err := train.New(s.cfg, s.dependencies(trainL, valL, testL))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Running %s for %d epochs\n", s.model.Type, s.cfg.Experiment.NumEpochs)
	if start := exp.CurrentEpoch(); start > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Resuming from epoch %d\n", start)
	}

	if err := exp.Run(cmd.Context()); err != nil {
		return err
	}

	if id := exp.RunID(); id != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Journal run %s\n", id)
	}

	h := exp.History()
	if h.Len() > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Finished %d epochs, last train loss %.4f, last val loss %.4f\n",
			h.Len(), h.Training[h.Len()-1], h.Validation[h.Len()-1])
	}
	return nil
}

// TestHandler - Berechnet Test-Verlust und BLEU fuer das gespeicherte Modell
func TestHandler(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.loadWeights(); err != nil {
		return err
	}

	// Gewichte sind geladen, das Experiment darf den Store nicht anfassen
	s.cfg.Experiment.Load = false
	s.cfg.Experiment.Save = false

	trainL, valL, testL, err := s.loaders()
	if err != nil {
		return err
	}
	deps := s.dependencies(trainL, valL, testL)
	deps.Journal = nil

	exp, err := train.New(s.cfg, deps)
	if err != nil {
		return err
	}

	res, err := exp.Test(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Test Loss: %v\tBleu1: %v\tBleu4: %v\n", res.Loss, res.BLEU1, res.BLEU4)
	return nil
}
