package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPyString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", `''`},
		{"plain", `'plain'`},
		{"it's", `'it\'s'`},
		{`C:\data`, `'C:\\data'`},
		{"a\nb\tc\r", `'a\nb\tc\r'`},
		{"bell\x07", `'bell\x07'`},
		{"héllo", `'héllo'`},
		{"bad\xffbyte", "'bad\uFFFDbyte'"},
		{`'); import os; os.system('x`, `'\'); import os; os.system(\'x'`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, pyString(tt.in))
		})
	}
}

func TestPyFloat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "7", pyFloat(7))
	assert.Equal(t, "6.5", pyFloat(6.5))
	assert.Equal(t, "0.25", pyFloat(0.25))
}

func TestRemoteCommands(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "__import__('os').chdir('/tmp/it\\'s')", chdirCode("/tmp/it's"))
	assert.Equal(t, "print(__import__('json').dumps(__import__('os').getcwd()))", getcwdCode())
	assert.Equal(t,
		"print(__import__('json').dumps(__import__('matplotlib.pyplot').pyplot.get_fignums()))",
		figureNumbersCode())
	assert.Equal(t, "__import__('matplotlib.pyplot').pyplot.close('all')", closeFiguresCode())
}

func TestLoadMatplotlibCode(t *testing.T) {
	t.Parallel()

	want := "import matplotlib\n" +
		"matplotlib.use('AGG')\n" +
		"import matplotlib.pyplot as plt\n" +
		"plt.ioff()\n" +
		"plt.close('all')"
	assert.Equal(t, want, loadMatplotlibCode("AGG"))
}

func TestSaveFigureCode(t *testing.T) {
	t.Parallel()

	t.Run("with directory", func(t *testing.T) {
		t.Parallel()

		want := "__import__('os').makedirs('figure', exist_ok=True)\n" +
			"__import__('matplotlib.pyplot').pyplot.figure(2).set_size_inches(7, 5.5)\n" +
			"__import__('matplotlib.pyplot').pyplot.figure(2).savefig('figure/plot-2.png', dpi=72)"
		assert.Equal(t, want, saveFigureCode(2, "figure/plot-2.png", 72, 7, 5.5))
	})

	t.Run("bare file name", func(t *testing.T) {
		t.Parallel()

		want := "__import__('matplotlib.pyplot').pyplot.figure(1).set_size_inches(4, 3)\n" +
			"__import__('matplotlib.pyplot').pyplot.figure(1).savefig('plot-1.svg', dpi=300)"
		assert.Equal(t, want, saveFigureCode(1, "plot-1.svg", 300, 4, 3))
	})
}
