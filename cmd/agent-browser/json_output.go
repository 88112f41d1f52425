package main

import (
	"encoding/json"
	"io"
)

// writeJSONLine encodes v as a single line, the form --json consumers read.
func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
