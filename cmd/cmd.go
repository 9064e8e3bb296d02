// cmd.go - Haupt-CLI Definition
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/7blacky7/captioner/envconfig"
	"github.com/7blacky7/captioner/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-26s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "captioner",
		Short:         "Train and evaluate image captioning models",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	trainCmd := newTrainCmd()
	testCmd := newTestCmd()
	captionCmd := newCaptionCmd()
	statsCmd := newStatsCmd()
	serveCmd := newServeCmd()

	envVars := envconfig.AsMap()
	common := []envconfig.EnvVar{
		envVars["CAPTION_CONFIG_DIR"],
		envVars["CAPTION_STATS_DIR"],
		envVars["CAPTION_DEBUG"],
	}

	for _, cmd := range []*cobra.Command{trainCmd, testCmd, captionCmd, statsCmd, serveCmd} {
		switch cmd {
		case trainCmd:
			appendEnvDocs(cmd, append(common,
				envVars["CAPTION_SEED"],
				envVars["CAPTION_CHECKPOINT_DTYPE"],
				envVars["CAPTION_STATS_DB"],
				envVars["CAPTION_NOPROGRESS"],
			))
		case statsCmd:
			appendEnvDocs(cmd, append(common, envVars["CAPTION_STATS_DB"]))
		case serveCmd:
			appendEnvDocs(cmd, append(common,
				envVars["CAPTION_HOST"],
				envVars["CAPTION_ORIGINS"],
				envVars["CAPTION_STATS_DB"],
			))
		default:
			appendEnvDocs(cmd, append(common, envVars["CAPTION_SEED"]))
		}
	}

	rootCmd.AddCommand(trainCmd, testCmd, captionCmd, statsCmd, serveCmd)
	return rootCmd
}
