package main

import (
	"fmt"
	"io"

	"github.com/pevans/finharvest/dataset"
	"github.com/pevans/finharvest/journal"
)

// printFailures prints journaled source failures, newest first
func printFailures(w io.Writer, failures []journal.Entry) {
	if len(failures) == 0 {
		fmt.Fprintln(w, "No failures recorded.")
		return
	}

	for _, f := range failures {
		// Truncate error for display
		msg := f.Error
		if len(msg) > 150 {
			msg = msg[:147] + "..."
		}

		fmt.Fprintf(w, "%s %s (%s)\n", dataset.FormatDate(f.Date), f.Source, f.Kind)
		if f.URL != "" {
			fmt.Fprintf(w, "   URL: %s\n", f.URL)
		}
		fmt.Fprintf(w, "   Error: %s\n", msg)
		fmt.Fprintf(w, "   Run: %s | Recorded: %s\n", f.RunID.String(), f.RecordedAt.Local().Format("2006-01-02 15:04"))
		fmt.Fprintln(w)
	}
}
