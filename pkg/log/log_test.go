package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInitJSONOutputWritesOneJSONLinePerMessage(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	Info("store opened")

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if decoded["message"] != "store opened" {
		t.Fatalf("expected message field \"store opened\", got %v", decoded["message"])
	}
}

func TestWithComponentAddsComponentField(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	WithComponent("wal").Info().Msg("rotated segment")

	if !strings.Contains(buf.String(), `"component":"wal"`) {
		t.Fatalf("expected component field in log line, got %q", buf.String())
	}
}

func TestDebugLevelSuppressedBelowWarnThreshold(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Debug("should not appear")
	Info("should not appear either")

	if buf.Len() != 0 {
		t.Fatalf("expected no output below the configured level, got %q", buf.String())
	}
}
