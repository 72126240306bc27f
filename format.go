package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/tonimelisma/cloudmon/internal/changesource"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless --quiet is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// sizeUnits are the display units for item sizes. Map and track files stay
// well below a terabyte, so GB is the last unit.
var sizeUnits = []string{"KB", "MB", "GB"}

const sizeStep = 1024

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	if bytes < sizeStep {
		return fmt.Sprintf("%d B", bytes)
	}

	v := float64(bytes) / sizeStep
	unit := 0

	for v >= sizeStep && unit < len(sizeUnits)-1 {
		v /= sizeStep
		unit++
	}

	return fmt.Sprintf("%.1f %s", v, sizeUnits[unit])
}

// formatTime returns a compact local timestamp for journal and item listings.
func formatTime(t time.Time) string {
	return formatTimeAt(t, time.Now())
}

// formatTimeAt formats t relative to now: the clock time for today, month
// and day within the year, and the year otherwise. Zero renders as "-".
func formatTimeAt(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	y, m, d := t.Date()
	ny, nm, nd := now.Date()

	switch {
	case y == ny && m == nm && d == nd:
		return t.Format(time.TimeOnly)
	case y == ny:
		return t.Format("Jan _2 15:04")
	default:
		return t.Format("Jan _2  2006")
	}
}

// statusLabel is the display form of an item's download status.
func statusLabel(s changesource.Status) string {
	if s == changesource.StatusNotDownloaded {
		return "not downloaded"
	}

	return string(s)
}

// printItems writes items as a PATH/SIZE/MODIFIED/STATUS table.
func printItems(w io.Writer, items []changesource.Item) {
	rows := make([][]string, 0, len(items))
	for i := range items {
		it := &items[i]
		rows = append(rows, []string{
			it.Path,
			formatSize(it.Size),
			formatTime(it.ModTime.Local()),
			statusLabel(it.Status),
		})
	}

	printTable(w, []string{"PATH", "SIZE", "MODIFIED", "STATUS"}, rows)
}

// printTable writes aligned columns. Widths are measured in terminal cells,
// so item names with wide characters stay aligned. The last column is not
// padded.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = cellWidth(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], cellWidth(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	var b strings.Builder

	for i, cell := range cells {
		if i > 0 {
			b.WriteString("  ")
		}

		b.WriteString(cell)

		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-cellWidth(cell)))
		}
	}

	fmt.Fprintln(w, b.String())
}

// cellWidth counts East Asian wide and fullwidth runes as two cells.
func cellWidth(s string) int {
	n := 0

	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}

	return n
}
