package audit

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestLogger_LogWallet(t *testing.T) {
	buf := captureLogs(t)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	logger := &Logger{now: func() time.Time { return fixed }}

	logger.LogWallet(EventCredit, "tx-1", 7, decimal.RequireFromString("25.50"), map[string]any{"provider": "admin"})

	out := buf.String()
	assert.Contains(t, out, "AUDIT:")
	assert.Contains(t, out, `\"event_type\":\"CREDIT\"`)
	assert.Contains(t, out, `\"company_id\":7`)
	assert.Contains(t, out, `\"amount\":\"25.5\"`)
}

func TestLogger_LogError(t *testing.T) {
	buf := captureLogs(t)
	logger := NewLogger()

	logger.LogError("hold-9", 3, errors.New("insufficient balance"))

	out := buf.String()
	assert.True(t, strings.Contains(out, `\"status\":\"FAILED\"`))
	assert.Contains(t, out, "insufficient balance")
}
