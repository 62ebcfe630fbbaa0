package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seeker/config"
	"seeker/internal"
)

type testLoggerConfig struct {
	minLevel Level
	mask     bool
}

func (c *testLoggerConfig) GetMinLogLevel() Level   { return c.minLevel }
func (c *testLoggerConfig) ShouldMaskAPIKeys() bool { return c.mask }

func newTestLogger(ctx context.Context, cfg LoggerConfig) (Logger, *test.Hook) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	return NewWithBase(ctx, cfg, base), hook
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{" warning ", WARN},
		{"Error", ERROR},
		{"verbose", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestContextLoggerFields(t *testing.T) {
	ctx := internal.WithRequestID(context.Background(), "req-1")
	ctx = internal.WithSessionID(ctx, "sess-1")
	log, hook := newTestLogger(ctx, &testLoggerConfig{minLevel: DEBUG})

	log.WithComponent("session").WithField("message_id", "m-9").Info("committed %d fragments", 3)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "ℹ️ committed 3 fragments", entry.Message)
	assert.Equal(t, "req-1", entry.Data["request_id"])
	assert.Equal(t, "sess-1", entry.Data["session_id"])
	assert.Equal(t, "session", entry.Data["component"])
	assert.Equal(t, "m-9", entry.Data["message_id"])
}

func TestContextLoggerDerivedLoggersAreIndependent(t *testing.T) {
	log, hook := newTestLogger(context.Background(), &testLoggerConfig{minLevel: DEBUG})

	tagged := log.WithField("k", "v").WithSession("s-2")
	log.Info("plain")
	assert.NotContains(t, hook.LastEntry().Data, "k")
	assert.NotContains(t, hook.LastEntry().Data, "session_id")
	assert.Equal(t, "unknown", hook.LastEntry().Data["request_id"])

	tagged.Info("tagged")
	assert.Equal(t, "v", hook.LastEntry().Data["k"])
	assert.Equal(t, "s-2", hook.LastEntry().Data["session_id"])
}

func TestContextLoggerMinimumLevel(t *testing.T) {
	log, hook := newTestLogger(context.Background(), &testLoggerConfig{minLevel: WARN})

	log.Debug("dropped")
	log.Info("dropped")
	log.Warn("kept")
	log.Error("kept too")

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.WarnLevel, hook.AllEntries()[0].Level)
	assert.Equal(t, logrus.ErrorLevel, hook.AllEntries()[1].Level)
}

func TestContextLoggerMasksSecrets(t *testing.T) {
	log, hook := newTestLogger(context.Background(), &testLoggerConfig{minLevel: DEBUG, mask: true})

	log.Info("calling with Authorization: Bearer sk-abcdefghijklmnop")
	assert.NotContains(t, hook.LastEntry().Message, "abcdefghijklmnop")
	assert.Contains(t, hook.LastEntry().Message, "Bearer ***")
}

func TestMaskSecrets(t *testing.T) {
	assert.Equal(t, "key=sk-ab***", MaskSecrets("key=sk-abcdefghijkl"))
	assert.Equal(t, "key=AIza***", MaskSecrets("key=AIzaSyA1234567890abcdefghijkl"))
	assert.Equal(t, "Bearer ***", MaskSecrets("Bearer token-value"))
	assert.Equal(t, "nothing secret here", MaskSecrets("nothing secret here"))
}

func TestFromContext(t *testing.T) {
	cfg := &testLoggerConfig{minLevel: INFO}
	stored := New(context.Background(), cfg).(*ContextLogger)
	ctx := stored.WithContext(context.Background())

	assert.Same(t, stored, FromContext(ctx, cfg))
	assert.Same(t, stored, ConditionalLogger(ctx))
	assert.NotNil(t, FromContext(context.Background(), cfg))
	assert.IsType(t, &noOpLogger{}, ConditionalLogger(context.Background()))
}

func TestConfigAdapter(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.LogLevel = "ERROR"

	adapter := NewConfigAdapter(cfg)
	assert.Equal(t, ERROR, adapter.GetMinLogLevel())
	assert.True(t, adapter.ShouldMaskAPIKeys())

	ctx, log := ContextLoggerFromConfig(context.Background(), cfg)
	assert.Same(t, log, ConditionalLogger(ctx))
}

func TestObservabilityLoggerJSONShape(t *testing.T) {
	var buf bytes.Buffer
	obs := NewObservabilityLoggerWithWriter(&buf, DEBUG)

	obs.ParseOutcome("req-7", "sess-7", "trailer", []error{errors.New("bad sources")}, map[string]interface{}{"sources": 0})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "Response parsed with recovered issues", line["message"])
	assert.Equal(t, "seeker", line["service"])
	assert.Equal(t, ComponentParser, line["component"])
	assert.Equal(t, CategoryParse, line["category"])
	assert.Equal(t, "req-7", line["request_id"])
	assert.Equal(t, "sess-7", line["session_id"])
	assert.Equal(t, "trailer", line["protocol"])
	assert.Contains(t, line, "timestamp")
	assert.Equal(t, []interface{}{"bad sources"}, line["issues"])
}

func TestObservabilityLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	obs := NewObservabilityLoggerWithWriter(&buf, INFO)

	obs.SessionTransition("req", "sess", "Idle", "UserRecorded")
	assert.Empty(t, buf.String())

	obs.CircuitBreakerEvent("req", "http://a", "Circuit opened", nil)
	obs.StreamFailure("req", "sess", errors.New("connection reset"), 4)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"endpoint":"http://a"`)
	assert.Contains(t, lines[1], `"error":"connection reset"`)
}

func TestNewObservabilityLoggerCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/logs"
	obs, err := NewObservabilityLogger(dir, INFO, DefaultRotationConfig())
	require.NoError(t, err)
	defer obs.Close()

	obs.Query("req", "sess", 12)
	assert.FileExists(t, dir+"/seeker.jsonl")
}
