package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudmon/internal/journal"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded monitor events",
		Long: `List snapshots, updates, errors, and lifecycle changes recorded by
"cloudmon watch", newest first.

Examples:
  cloudmon history
  cloudmon history --since 1d --limit 200
  cloudmon history --all-containers --json`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().Int("limit", journal.DefaultHistoryLimit, "maximum number of entries")
	cmd.Flags().String("since", "", "only entries newer than this (e.g. 30m, 2h, 1d)")
	cmd.Flags().Bool("all-containers", false, "include every container, not just the configured one")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	sinceFlag, err := cmd.Flags().GetString("since")
	if err != nil {
		return err
	}

	all, err := cmd.Flags().GetBool("all-containers")
	if err != nil {
		return err
	}

	filter := journal.Filter{Limit: limit}

	if sinceFlag != "" {
		d, parseErr := parseDuration(sinceFlag)
		if parseErr != nil {
			return fmt.Errorf("invalid --since %q: %w", sinceFlag, parseErr)
		}

		filter.Since = time.Now().Add(-d)
	}

	if !all {
		if err := cfg.RequireContainer(); err != nil {
			return err
		}

		filter.ContainerID = cfg.ContainerID
	}

	jr, err := journal.OpenExisting(cmd.Context(), cfg.JournalPath, cc.Logger)
	if errors.Is(err, journal.ErrNoJournal) {
		cc.Statusf("No journal yet. Run 'cloudmon watch' to start recording.\n")
		return nil
	}

	if err != nil {
		return err
	}
	defer jr.Close()

	entries, err := jr.History(cmd.Context(), filter)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printHistoryJSON(os.Stdout, entries)
	}

	if len(entries) == 0 {
		cc.Statusf("No matching entries.\n")
		return nil
	}

	printHistoryText(os.Stdout, entries, all)

	return nil
}

func printHistoryJSON(w io.Writer, entries []journal.Entry) error {
	if entries == nil {
		entries = []journal.Entry{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	return nil
}

func printHistoryText(w io.Writer, entries []journal.Entry, withContainer bool) {
	headers := []string{"TIME", "KIND", "ITEMS", "DETAIL"}
	if withContainer {
		headers = append(headers, "CONTAINER")
	}

	rows := make([][]string, 0, len(entries))
	for i := range entries {
		e := &entries[i]

		row := []string{
			formatTime(e.RecordedAt.Local()),
			e.Kind,
			historyItems(e),
			historyDetail(e),
		}

		if withContainer {
			row = append(row, e.ContainerID)
		}

		rows = append(rows, row)
	}

	printTable(w, headers, rows)
}

func historyItems(e *journal.Entry) string {
	switch e.Kind {
	case journal.KindSnapshot:
		return strconv.Itoa(e.ItemCount)
	case journal.KindUpdate:
		return fmt.Sprintf("%d (+%d ~%d -%d)", e.ItemCount, e.Added, e.Modified, e.Removed)
	default:
		return "-"
	}
}

func historyDetail(e *journal.Entry) string {
	if e.Kind != journal.KindError {
		return e.Detail
	}

	if e.ErrorCode != 0 {
		return fmt.Sprintf("%s (code %d)", e.ErrorKind, e.ErrorCode)
	}

	return e.ErrorKind
}
