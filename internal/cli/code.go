package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/thruflo/knitron/internal/chunk"
	"github.com/thruflo/knitron/internal/config"
)

// runCode runs a single command on the kernel. Printed output and the
// result value go to out, tracebacks to errOut. Colors are kept when errOut
// is a terminal.
func runCode(ctx context.Context, cfg *config.Config, spec, code string, out, errOut io.Writer) error {
	session, err := connectKernel(ctx, cfg, spec)
	if err != nil {
		return err
	}
	defer session.Close()

	if isTerminal(errOut) {
		cfg.Execution.StripANSI = false
	}

	output, err := chunk.NewRunner(session, cfg).RunCode(ctx, code)
	if err != nil {
		return err
	}

	for _, s := range output.Stdout {
		fmt.Fprint(out, s)
	}
	for _, s := range output.Text {
		fmt.Fprintln(out, s)
	}
	for _, s := range output.Stderr {
		fmt.Fprint(errOut, s)
		if !strings.HasSuffix(s, "\n") {
			fmt.Fprintln(errOut)
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
