// Package logging builds the logr.Logger handed to every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// New returns a controller-runtime logger writing to stderr at the given level.
func New(level string) (logr.Logger, error) {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter is New with an explicit destination. "debug" switches to the
// development console encoder and enables V(1) output; other levels use
// JSON lines.
func NewWithWriter(level string, w io.Writer) (logr.Logger, error) {
	zapLevel, development, err := parseLevel(level)
	if err != nil {
		return logr.Logger{}, err
	}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	opts := crzap.Options{
		Development: development,
		Level:       &atomic,
		DestWriter:  w,
		TimeEncoder: zapcore.RFC3339TimeEncoder,
	}
	return crzap.New(crzap.UseFlagOptions(&opts)), nil
}

func parseLevel(level string) (zapcore.Level, bool, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		// logr V(1) maps to zap level -1.
		return zapcore.DebugLevel, true, nil
	case "info", "":
		return zapcore.InfoLevel, false, nil
	case "warn", "warning":
		return zapcore.WarnLevel, false, nil
	case "error":
		return zapcore.ErrorLevel, false, nil
	default:
		return 0, false, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", level)
	}
}
