package utils

import (
	"fmt"
	"io"
)

// ProgressFunc is called synchronously before each unit of work.
// index is zero based.
type ProgressFunc func(index, total int, label string)

// TerminalProgress returns a ProgressFunc that rewrites a single status line on w.
func TerminalProgress(w io.Writer) ProgressFunc {
	return func(index, total int, label string) {
		fmt.Fprintf(w, "\r\033[Kprocessing %d/%d (%s)", index+1, total, label)
		if index+1 == total {
			fmt.Fprintln(w)
		}
	}
}
