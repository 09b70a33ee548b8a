// Package testutils provides the shared test kit: a fake peripheral
// with a fluent builder, diff-based text and JSON asserters, and a
// test logger helper.
package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestHelper bundles the pieces most tests need.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a helper whose logger is silent unless tests
// run verbose.
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{T: t, Logger: NewTestLogger()}
}

// NewTestLogger returns a debug-level logger that only prints when
// `go test -v` is used.
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	if !testing.Verbose() {
		logger.SetOutput(io.Discard)
	}
	return logger
}
