package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/warp/leave-engine/generic"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDateFlag parses a YYYY-MM-DD flag value; empty means fallback.
func parseDateFlag(name, value string, fallback generic.Date) (generic.Date, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := generic.ParseDate(value)
	if err != nil {
		return generic.Date{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return d, nil
}

// openOutput returns stdout for "" or "-", otherwise a created file.
func openOutput(path string, stdout io.Writer) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
