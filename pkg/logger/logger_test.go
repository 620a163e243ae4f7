package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLevels(t *testing.T) {
	testCases := []struct {
		level    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"verbose", logrus.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			Init(tc.level)
			assert.Equal(t, tc.expected, GetLogger().GetLevel())
		})
	}
}

func TestStructuredOutput(t *testing.T) {
	Init("info")
	var buf bytes.Buffer
	SetOutput(&buf)

	WithFields(logrus.Fields{"vcs": "github", "remote_id": 42}).Info("repository synced")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "repository synced", entry["msg"])
	assert.Equal(t, "github", entry["vcs"])
	assert.Equal(t, float64(42), entry["remote_id"])
}
