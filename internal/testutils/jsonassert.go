package testutils

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// MustJSON marshals v or panics. Test-only convenience.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

// JSONOption configures a JSONAsserter.
type JSONOption func(*JSONAssertOptions)

// WithIgnoreExtraKeys controls whether keys absent from the expected
// document are ignored in the actual one.
func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoredFields names fields to strip from both documents before
// comparison, at any nesting depth.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter compares JSON documents structurally and reports
// differences with an ASCII diff. The expected document may use the
// "<<PRESENCE>>" placeholder to require a key without pinning its
// value.
type JSONAsserter struct {
	t       *testing.T
	options JSONAssertOptions
}

// NewJSONAsserter creates an asserter with default options.
func NewJSONAsserter(t *testing.T) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options.
func (ja *JSONAsserter) WithOptions(opts ...JSONOption) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON mismatch:\n%s", diff)
	}
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects, so wrap root-level arrays.
	if isArray(expected) && isArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		replacePresenceWithActual(expected, actual)
	}
	if len(ja.options.IgnoredFields) > 0 {
		removeIgnoredFields(expected, ja.options.IgnoredFields)
		removeIgnoredFields(actual, ja.options.IgnoredFields)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
	})
	out, _ := f.Format(diff)
	return out
}

const presencePlaceholder = "<<PRESENCE>>"

func replacePresenceWithActual(expected, actual interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range exp {
			if s, ok := exp[k].(string); ok && s == presencePlaceholder {
				if _, present := act[k]; present {
					exp[k] = act[k]
				}
			} else {
				replacePresenceWithActual(exp[k], act[k])
			}
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				replacePresenceWithActual(exp[i], act[i])
			}
		}
	}
}

func removeIgnoredFields(doc interface{}, fields []string) {
	switch v := doc.(type) {
	case map[string]interface{}:
		for _, field := range fields {
			delete(v, field)
		}
		for k := range v {
			removeIgnoredFields(v[k], fields)
		}
	case []interface{}:
		for i := range v {
			removeIgnoredFields(v[i], fields)
		}
	}
}

func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, exists := exp[k]; !exists {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}
