package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLogErrorAcceptsNilError(t *testing.T) {
	logger := GetLogger()
	var buf bytes.Buffer
	prev := logger.Out
	logger.SetOutput(&buf)
	defer logger.SetOutput(prev)

	// Business rejections are logged without a Go error; the context string
	// becomes the message.
	LogError(logger, "mod", "fn", "rejected scanned code", "QR0001.BAD", nil)
	if !strings.Contains(buf.String(), "rejected scanned code") {
		t.Fatalf("expected context as message, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), "QR0001.BAD") {
		t.Fatalf("expected data field in output, got %s", buf.String())
	}

	buf.Reset()
	LogError(logger, "mod", "fn", "ctx", nil, errors.New("boom"))
	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("expected error as message, got %s", buf.String())
	}
}
