// cmd_stats.go - Anzeige der Verlust-Historien und Journal-Laeufe
// Hauptfunktionen: StatsHandler
package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/7blacky7/captioner/stats"
)

// StatsHandler - Zeigt Epochen und Verluste eines Experiments als Tabelle
func StatsHandler(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0], false)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()

	h, err := s.store.LoadHistory()
	if errors.Is(err, stats.ErrNoHistory) {
		fmt.Fprintf(out, "No statistics for %s in %s\n", s.cfg.Name, s.store.Dir)
	} else if err != nil {
		return err
	} else {
		data := make([][]string, h.Len())
		for i := range h.Len() {
			data[i] = []string{
				strconv.Itoa(i + 1),
				strconv.FormatFloat(h.Training[i], 'f', 4, 64),
				strconv.FormatFloat(h.Validation[i], 'f', 4, 64),
			}
		}
		renderTable(out, []string{"EPOCH", "TRAIN LOSS", "VAL LOSS"}, data)
	}

	if s.journal == nil {
		return nil
	}

	runs, err := s.journal.Runs(s.cfg.Name)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	data := make([][]string, 0, len(runs))
	for _, r := range runs {
		epochs, err := s.journal.Epochs(r.ID)
		if err != nil {
			return err
		}
		tests, err := s.journal.Tests(r.ID)
		if err != nil {
			return err
		}

		bleu := "-"
		if len(tests) > 0 {
			last := tests[len(tests)-1]
			bleu = fmt.Sprintf("%.3f / %.3f", last.BLEU1, last.BLEU4)
		}
		data = append(data, []string{
			r.ID,
			r.ModelType,
			r.StartedAt.Local().Format(time.DateTime),
			strconv.Itoa(r.StartEpoch),
			strconv.Itoa(len(epochs)),
			bleu,
		})
	}
	renderTable(out, []string{"RUN", "MODEL", "STARTED", "FROM", "EPOCHS", "BLEU1 / BLEU4"}, data)
	return nil
}

func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
