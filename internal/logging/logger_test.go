package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestLevelsFilterVerbosity(t *testing.T) {
	var info bytes.Buffer
	logger, err := NewWithWriter("info", &info)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("stage finished", "stage", "writing")
	logger.V(1).Info("stacked observation")
	out := info.String()
	if !strings.Contains(out, "stage finished") || !strings.Contains(out, `"stage":"writing"`) {
		t.Fatalf("info line missing: %q", out)
	}
	if strings.Contains(out, "stacked observation") {
		t.Fatalf("V(1) should be hidden at info level: %q", out)
	}

	var debug bytes.Buffer
	logger, err = NewWithWriter("debug", &debug)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.V(1).Info("stacked observation")
	if !strings.Contains(debug.String(), "stacked observation") {
		t.Fatalf("V(1) should be visible at debug level: %q", debug.String())
	}

	var quiet bytes.Buffer
	logger, _ = NewWithWriter("error", &quiet)
	logger.Info("stage finished")
	if quiet.Len() != 0 {
		t.Fatalf("info should be hidden at error level: %q", quiet.String())
	}
}
