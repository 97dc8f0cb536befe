package main

import (
	"fmt"

	"sjsage522/cardledger/internal/crawler"
	"sjsage522/cardledger/services/history"
	"sjsage522/cardledger/services/ledger"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger totals and recent runs",
	RunE:  runStats,
}

var statsLimit int

func init() {
	statsCmd.Flags().IntVar(&statsLimit, "limit", 5, "Number of recent runs to show")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	l := ledger.NewStore(cfg.LedgerFile).Load()
	counts := l.CountBySection()
	fmt.Fprintf(out, "Ledger %s: %d orders\n", cfg.LedgerFile, l.Len())
	for _, section := range []crawler.Section{crawler.SectionPurchase, crawler.SectionSale} {
		fmt.Fprintf(out, "  %-9s %d\n", section, counts[section])
	}

	if cfg.HistoryDB == "" || statsLimit <= 0 {
		return nil
	}
	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(cmd.Context(), statsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet")
		return nil
	}

	fmt.Fprintln(out, "Recent runs:")
	for _, run := range runs {
		fmt.Fprintf(out, "  %s  %-12s %3d new  %4d total  %s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04"), run.Outcome, run.NewRecords, run.LedgerRecords, run.Strategy)
		for _, sr := range run.Sections {
			line := fmt.Sprintf("    %-9s %3d new  %3d pages  stop: %s", sr.Section, sr.NewRecords, sr.Pages, sr.StopReason)
			if sr.UnparsedDates > 0 {
				line += fmt.Sprintf("  unparsed dates: %d", sr.UnparsedDates)
			}
			if sr.Error != "" {
				line += "  error: " + sr.Error
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
