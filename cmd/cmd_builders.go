// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newTrainCmd, newTestCmd, newCaptionCmd, newStatsCmd, newServeCmd
package cmd

import (
	"github.com/spf13/cobra"
)

// newTrainCmd - Erstellt den train Command
func newTrainCmd() *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train EXPERIMENT",
		Short: "Train a captioning model from <EXPERIMENT>.json",
		Args:  cobra.ExactArgs(1),
		RunE:  TrainHandler,
	}

	trainCmd.Flags().Bool("resume", false, "Resume from the saved histories and checkpoint (overrides experiment.load)")
	trainCmd.Flags().Bool("no-save", false, "Do not write histories, logs or checkpoints")
	trainCmd.Flags().Int("epochs", 0, "Override experiment.num_epochs")
	addSessionFlags(trainCmd)

	return trainCmd
}

// newTestCmd - Erstellt den test Command
func newTestCmd() *cobra.Command {
	testCmd := &cobra.Command{
		Use:   "test EXPERIMENT",
		Short: "Compute test loss, BLEU-1 and BLEU-4 for the saved model",
		Args:  cobra.ExactArgs(1),
		RunE:  TestHandler,
	}
	addSessionFlags(testCmd)
	addGenerationFlags(testCmd)
	return testCmd
}

// newCaptionCmd - Erstellt den caption Command
func newCaptionCmd() *cobra.Command {
	captionCmd := &cobra.Command{
		Use:   "caption EXPERIMENT IMAGE...",
		Short: "Generate captions for image files with the saved model",
		Args:  cobra.MinimumNArgs(2),
		RunE:  CaptionHandler,
	}
	addSessionFlags(captionCmd)
	addGenerationFlags(captionCmd)
	return captionCmd
}

// newStatsCmd - Erstellt den stats Command
func newStatsCmd() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats EXPERIMENT",
		Short: "Show the loss history and journal runs of an experiment",
		Args:  cobra.ExactArgs(1),
		RunE:  StatsHandler,
	}
	statsCmd.Flags().String("db", "", "SQLite run journal (default $CAPTION_STATS_DB)")
	return statsCmd
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:     "serve EXPERIMENT",
		Aliases: []string{"start"},
		Short:   "Serve the saved model over HTTP",
		Args:    cobra.ExactArgs(1),
		RunE:    RunServer,
	}
	addSessionFlags(serveCmd)
	addGenerationFlags(serveCmd)
	return serveCmd
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64("seed", 0, "Override experiment.seed (also $CAPTION_SEED)")
	cmd.Flags().String("db", "", "SQLite run journal (default $CAPTION_STATS_DB)")
}

func addGenerationFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-length", 0, "Override generation.max_length")
	cmd.Flags().Bool("deterministic", false, "Override generation.deterministic")
	cmd.Flags().Float64("temperature", 0, "Override generation.temperature")
}
