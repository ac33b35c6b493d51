package chunk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Default values for Options, matching knitr's own defaults.
const (
	DefaultDevice    = "png"
	DefaultDPI       = 72
	DefaultFigWidth  = 7
	DefaultFigHeight = 7
)

// Options are the knitr chunk options knitron understands. Unknown keys
// are ignored.
type Options struct {
	Code  []string `mapstructure:"code"`
	Label string   `mapstructure:"label"`

	Device    string  `mapstructure:"dev"`
	FigExt    string  `mapstructure:"fig.ext"`
	DPI       float64 `mapstructure:"dpi"`
	FigWidth  float64 `mapstructure:"fig.width"`
	FigHeight float64 `mapstructure:"fig.height"`
	Cache     bool    `mapstructure:"cache"`

	FigPath     string `mapstructure:"knitron.fig.path"`
	Matplotlib  bool   `mapstructure:"knitron.matplotlib"`
	AutoPlot    bool   `mapstructure:"knitron.autoplot"`
	BaseDir     string `mapstructure:"knitron.base.dir"`
	PrintErrors *bool  `mapstructure:"knitron.print.errors"`
}

// OptionError reports an unusable chunk option.
type OptionError struct {
	Option  string
	Message string
}

func (e OptionError) Error() string {
	return fmt.Sprintf("chunk option %s: %s", e.Option, e.Message)
}

// IsOptionError checks if an error is an OptionError.
func IsOptionError(err error) bool {
	var oe OptionError
	return errors.As(err, &oe)
}

// DefaultOptions returns options with knitr's defaults.
func DefaultOptions() Options {
	return Options{
		Device:    DefaultDevice,
		DPI:       DefaultDPI,
		FigWidth:  DefaultFigWidth,
		FigHeight: DefaultFigHeight,
	}
}

// ParseOptions decodes chunk options from a JSON object.
func ParseOptions(r io.Reader) (*Options, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse chunk options: %w", err)
	}
	return DecodeOptions(raw)
}

// DecodeOptions decodes chunk options from a generic map, such as the
// result of unmarshalling knitr's JSON. R vectors of length one arrive as
// single-element arrays and are unwrapped.
func DecodeOptions(raw map[string]interface{}) (*Options, error) {
	opts := DefaultOptions()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       unwrapSingleton,
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build options decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode chunk options: %w", err)
	}

	if opts.FigExt == "" {
		opts.FigExt = opts.Device
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// Validate checks the options needed for the requested work are present.
func (o *Options) Validate() error {
	if o.Matplotlib && o.AutoPlot {
		if o.FigPath == "" {
			return OptionError{Option: "knitron.fig.path", Message: "required when knitron.autoplot is set"}
		}
		if o.Device == "" {
			return OptionError{Option: "dev", Message: "required when knitron.autoplot is set"}
		}
		if o.DPI <= 0 {
			return OptionError{Option: "dpi", Message: "must be positive"}
		}
		if o.FigWidth <= 0 || o.FigHeight <= 0 {
			return OptionError{Option: "fig.width/fig.height", Message: "must be positive"}
		}
	}
	return nil
}

// Source returns the chunk's code lines joined into one program.
func (o *Options) Source() string {
	return strings.Join(o.Code, "\n")
}

// WantsFigures reports whether figures should be saved after the chunk.
func (o *Options) WantsFigures() bool {
	return o.Matplotlib && o.AutoPlot
}

// FigureFile returns the file name for a figure number.
func (o *Options) FigureFile(fignum int) string {
	return fmt.Sprintf("%s-%d.%s", o.FigPath, fignum, o.FigExt)
}

// unwrapSingleton turns a one-element slice into its element unless the
// target is itself a slice.
func unwrapSingleton(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.Slice || to.Kind() == reflect.Slice {
		return data, nil
	}
	v := reflect.ValueOf(data)
	switch v.Len() {
	case 0:
		return reflect.Zero(to).Interface(), nil
	case 1:
		return v.Index(0).Interface(), nil
	default:
		return data, nil
	}
}
