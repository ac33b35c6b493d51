package chunk

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Remote commands are written against __import__ rather than names in the
// user namespace, so a chunk rebinding os or plt cannot break them.
const pyplot = "__import__('matplotlib.pyplot').pyplot"

// pyString renders s as a Python string literal.
func pyString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('\'')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case r == '\'':
			sb.WriteString(`\'`)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r == utf8.RuneError && size == 1:
			sb.WriteRune(utf8.RuneError)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, r)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

// pyFloat renders f as a Python numeric literal.
func pyFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// printJSONCode prints the JSON encoding of a Python expression on stdout.
func printJSONCode(expr string) string {
	return fmt.Sprintf("print(__import__('json').dumps(%s))", expr)
}

func getcwdCode() string {
	return printJSONCode("__import__('os').getcwd()")
}

func chdirCode(dir string) string {
	return fmt.Sprintf("__import__('os').chdir(%s)", pyString(dir))
}

// loadMatplotlibCode selects a non-interactive backend, binds plt in the
// user namespace as chunks expect, and discards figures left from earlier
// chunks.
func loadMatplotlibCode(backend string) string {
	return strings.Join([]string{
		"import matplotlib",
		fmt.Sprintf("matplotlib.use(%s)", pyString(backend)),
		"import matplotlib.pyplot as plt",
		"plt.ioff()",
		"plt.close('all')",
	}, "\n")
}

func figureNumbersCode() string {
	return printJSONCode(pyplot + ".get_fignums()")
}

func saveFigureCode(fignum int, filename string, dpi, width, height float64) string {
	lines := make([]string, 0, 3)
	if dir := filepath.Dir(filename); dir != "." && dir != "" {
		lines = append(lines, fmt.Sprintf("__import__('os').makedirs(%s, exist_ok=True)", pyString(dir)))
	}
	lines = append(lines,
		fmt.Sprintf("%s.figure(%d).set_size_inches(%s, %s)", pyplot, fignum, pyFloat(width), pyFloat(height)),
		fmt.Sprintf("%s.figure(%d).savefig(%s, dpi=%s)", pyplot, fignum, pyString(filename), pyFloat(dpi)),
	)
	return strings.Join(lines, "\n")
}

func closeFiguresCode() string {
	return pyplot + ".close('all')"
}
