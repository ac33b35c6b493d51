package chunk

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/thruflo/knitron/internal/kernel"
)

// Result is the JSON document handed back to knitr for one chunk.
type Result struct {
	Stdout  []string            `json:"stdout"`
	Stderr  []string            `json:"stderr"`
	Text    []string            `json:"text"`
	Figures []string            `json:"figures"`
	Display []kernel.MimeBundle `json:"display,omitempty"`
}

// NewResult builds a Result from collected output.
func NewResult(out *Output) *Result {
	res := &Result{
		Stdout:  out.Stdout,
		Stderr:  out.Stderr,
		Text:    out.Text,
		Display: out.Display,
	}
	res.normalize()
	return res
}

// normalize replaces nil lists so they encode as [] rather than null.
func (r *Result) normalize() {
	if r.Stdout == nil {
		r.Stdout = []string{}
	}
	if r.Stderr == nil {
		r.Stderr = []string{}
	}
	if r.Text == nil {
		r.Text = []string{}
	}
	if r.Figures == nil {
		r.Figures = []string{}
	}
}

// Marshal returns the indented JSON encoding of the result.
func (r *Result) Marshal() ([]byte, error) {
	r.normalize()
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile writes the result to path.
func (r *Result) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
