package logger

import (
	"context"
	"time"
)

// Common emoji constants for different log types
const (
	EmojiReceived = "📨"
	EmojiTarget   = "🎯"
	EmojiStream   = "🌊"
	EmojiSuccess  = "✅"
	EmojiLaunch   = "🚀"
	EmojiUser     = "👤"
	EmojiSystem   = "📋"
	EmojiOverride = "🔄"
	EmojiAlert    = "🚨"
	EmojiStats    = "📊"
	EmojiTrace    = "🧭"
	EmojiTitle    = "🏷️"
	EmojiWarning  = "⚠️"
	EmojiError    = "❌"
)

// LogQueryReceived logs a research query arriving for a session
func LogQueryReceived(ctx context.Context, logger Logger, queryLength, historyLength int) {
	logger.Info("%s Research query received: %d chars, %d prior messages", EmojiReceived, queryLength, historyLength)
}

// LogTitleDerived logs the title given to a session from its first query
func LogTitleDerived(ctx context.Context, logger Logger, title string) {
	logger.Info("%s Session titled %q", EmojiTitle, title)
}

// LogStreamOpened logs the upstream token stream being opened
func LogStreamOpened(ctx context.Context, logger Logger, provider string) {
	logger.Info("%s Opening %s token stream", EmojiLaunch, provider)
}

// LogFragment logs a single streamed fragment
func LogFragment(ctx context.Context, logger Logger, index, size, total int) {
	logger.Debug("%s Fragment #%d: %d chars (accumulated %d)", EmojiStream, index, size, total)
}

// LogParseOutcome logs the outcome of parsing a finished response
func LogParseOutcome(ctx context.Context, logger Logger, protocol string, planSteps, toolSteps, sources, issues int) {
	if issues > 0 {
		logger.Warn("%s Parsed %s response with %d recovered issues: plan=%d, steps=%d, sources=%d",
			EmojiAlert, protocol, issues, planSteps, toolSteps, sources)
		return
	}
	logger.Info("%s Parsed %s response: plan=%d, steps=%d, sources=%d",
		EmojiTrace, protocol, planSteps, toolSteps, sources)
}

// LogSessionTransition logs a state change of the streaming session
func LogSessionTransition(ctx context.Context, logger Logger, from, to string) {
	logger.Debug("%s Session state %s → %s", EmojiOverride, from, to)
}

// LogCommitted logs a bot message being committed
func LogCommitted(ctx context.Context, logger Logger, fragments int, elapsed time.Duration) {
	logger.Info("%s Committed response after %d fragments in %v", EmojiSuccess, fragments, elapsed.Round(time.Millisecond))
}

// LogStreamFailure logs a transport failure that moved the session to Errored
func LogStreamFailure(ctx context.Context, logger Logger, err error, fragments int) {
	logger.Error("%s Token stream failed after %d fragments: %v", EmojiAlert, fragments, err)
}

// LogEndpointSelected logs which upstream endpoint serves a request
func LogEndpointSelected(ctx context.Context, logger Logger, model, endpoint string) {
	logger.Info("%s Model %s → Endpoint: %s", EmojiTarget, model, endpoint)
}

// LogSystemPrompt logs the final system prompt size
func LogSystemPrompt(ctx context.Context, logger Logger, length int) {
	logger.Debug("%s System prompt: %d chars", EmojiSystem, length)
}

// ConditionalLogger returns the logger stored in ctx, or a logger that discards everything
func ConditionalLogger(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerContextKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// Nop returns a logger that discards everything
func Nop() Logger {
	return &noOpLogger{}
}

type noOpLogger struct{}

func (n *noOpLogger) Debug(format string, args ...interface{}) {}
func (n *noOpLogger) Info(format string, args ...interface{})  {}
func (n *noOpLogger) Warn(format string, args ...interface{})  {}
func (n *noOpLogger) Error(format string, args ...interface{}) {}
func (n *noOpLogger) WithField(key, value string) Logger       { return n }
func (n *noOpLogger) WithSession(sessionID string) Logger      { return n }
func (n *noOpLogger) WithComponent(component string) Logger    { return n }
