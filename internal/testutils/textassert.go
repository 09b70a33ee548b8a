package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T the asserters need.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

type TextAssertOptions struct {
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	TrimSpace                bool `default:"true"`
	EnableColors             bool `default:"false"`
}

// TextOption configures a TextAsserter.
type TextOption func(*TextAssertOptions)

// WithIgnoreEmptyLines drops blank lines before comparing.
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = ignore }
}

// WithEnableColors colorizes the unified diff output.
func WithEnableColors(enable bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = enable }
}

// TextAsserter compares multi-line text and reports mismatches as a
// unified diff.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates an asserter with default options.
func NewTextAsserter(t *testing.T) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

// WithOptions applies functional options.
func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// Assert compares actual against expected after normalization.
func (ta *TextAsserter) Assert(actual, expected string) {
	if diff := ta.diff(actual, expected); diff != "" {
		ta.t.Errorf("text mismatch:\n%s", diff)
	}
}

func (ta *TextAsserter) diff(actual, expected string) string {
	a := ta.normalize(actual)
	e := ta.normalize(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if ta.options.EnableColors {
		unified = colorizeDiff(unified)
	}
	return unified
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func colorizeDiff(diff string) string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}
