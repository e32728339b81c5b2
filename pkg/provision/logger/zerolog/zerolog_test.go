package zerolog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lumilearn/provision/pkg/provision"
)

func TestLogger_WritesAllLevels(t *testing.T) {
	output := bytes.Buffer{}
	zlog := zerolog.New(&output)
	logger := NewLogger(zlog)

	logger.Debug("debug message", provision.Field{Key: "key", Value: "value"})
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	lines := strings.Count(strings.TrimSpace(output.String()), "\n") + 1
	if lines != 4 {
		t.Errorf("Expected 4 log lines, got %d", lines)
	}
	if !strings.Contains(output.String(), `"key":"value"`) {
		t.Error("Expected structured field in output")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	output := bytes.Buffer{}
	zlog := zerolog.New(&output).Level(zerolog.WarnLevel)
	logger := NewLogger(zlog)

	logger.Debug("debug message")
	logger.Info("info message")

	if output.Len() != 0 {
		t.Error("Expected debug and info to be filtered out")
	}

	logger.Warn("warn message")
	logger.Error("error message")

	if output.Len() == 0 {
		t.Error("Expected warn and error to be logged")
	}
}

func TestLogger_MultipleFields(t *testing.T) {
	output := bytes.Buffer{}
	zlog := zerolog.New(&output)
	logger := NewLogger(zlog)

	logger.Info("provisioned account",
		provision.Field{Key: "identityId", Value: "id_1"},
		provision.Field{Key: "customerId", Value: "cus_1"},
		provision.Field{Key: "attempts", Value: 3},
	)

	if !strings.Contains(output.String(), `"attempts":3`) {
		t.Error("Expected numeric field in output")
	}
}
