package chunk

import (
	"regexp"

	"github.com/thruflo/knitron/internal/kernel"
	"github.com/thruflo/knitron/internal/logging"
)

// ansiEscape matches terminal control sequences, as found in IPython
// tracebacks.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

// StripANSI removes terminal control sequences from s.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// Output is the classified output of one execution.
type Output struct {
	Stdout  []string
	Stderr  []string
	Text    []string
	Display []kernel.MimeBundle

	// Traceback holds the lines of errors the code raised. They are also
	// in Stderr, interleaved with stderr stream text.
	Traceback []string
}

// Raised reports whether the code raised an error in the kernel.
func (o *Output) Raised() bool {
	return len(o.Traceback) > 0
}

// HasStderr reports whether anything was written to stderr, including
// warnings from code that did not raise.
func (o *Output) HasStderr() bool {
	return len(o.Stderr) > 0
}

// Collect classifies execution messages:
//   - stream stdout and display_data text go to Stdout
//   - stream stderr and error tracebacks go to Stderr
//   - error tracebacks also go to Traceback
//   - execute_result text/plain goes to Text
//   - display_data bundles go to Display
//
// Other message types are ignored. Undecodable messages are logged to log,
// or to the default logger when log is nil.
func Collect(messages []*kernel.Message, stripANSI bool, log *logging.Logger) *Output {
	if log == nil {
		log = logging.Default()
	}
	out := &Output{}
	clean := func(s string) string {
		if stripANSI {
			return StripANSI(s)
		}
		return s
	}

	for _, msg := range messages {
		switch msg.Type() {
		case kernel.MessageTypeStream:
			sc, err := msg.StreamData()
			if err != nil {
				log.Warn("undecodable stream message", "error", err)
				continue
			}
			if sc.Name == "stderr" {
				out.Stderr = append(out.Stderr, clean(sc.String()))
			} else {
				out.Stdout = append(out.Stdout, clean(sc.String()))
			}

		case kernel.MessageTypeExecuteResult:
			rc, err := msg.ResultData()
			if err != nil {
				log.Warn("undecodable execute_result", "error", err)
				continue
			}
			if text, ok := rc.Data.PlainText(); ok {
				out.Text = append(out.Text, clean(text))
			}

		case kernel.MessageTypeError:
			ec, err := msg.ErrorData()
			if err != nil {
				log.Warn("undecodable error message", "error", err)
				continue
			}
			lines := ec.Traceback
			if len(lines) == 0 {
				lines = []string{ec.EName + ": " + ec.EValue}
			}
			for _, line := range lines {
				out.Stderr = append(out.Stderr, clean(line))
				out.Traceback = append(out.Traceback, clean(line))
			}

		case kernel.MessageTypeDisplayData:
			dc, err := msg.DisplayData()
			if err != nil {
				log.Warn("undecodable display_data", "error", err)
				continue
			}
			out.Display = append(out.Display, dc.Data)
			if text, ok := dc.Data.PlainText(); ok {
				out.Stdout = append(out.Stdout, clean(text))
			}
		}
	}

	return out
}
