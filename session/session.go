// Package session drives one chat session through a research query: the
// user message is recorded, a bot placeholder fills with streamed fragments,
// and the finished text is parsed and committed in a single update.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"seeker/internal"
	"seeker/llm"
	"seeker/logger"
	"seeker/metrics"
	"seeker/parser"
	"seeker/types"
)

// ApologyMessage replaces the bot message when the token stream fails
const ApologyMessage = "I'm sorry, but the research could not be completed due to an error. Please try your query again."

// DefaultTitleMaxLength is the title length used when Options leaves it unset
const DefaultTitleMaxLength = 30

var (
	// ErrBusy is returned by Submit while another query is in flight
	ErrBusy = errors.New("session is busy")
	// ErrFinalized guards against applying a fragment once finalization began
	ErrFinalized = errors.New("message is already being finalized")
	// ErrTransport wraps token stream failures
	ErrTransport = errors.New("token stream failed")

	ErrEmptyQuery = errors.New("query is empty")
	ErrClosed     = errors.New("session is closed")
)

// MessageStore is the persistence the session writes through
type MessageStore interface {
	AppendMessage(ctx context.Context, sessionID string, sender types.Sender, text string) (types.Message, error)
	UpdateMessageText(ctx context.Context, sessionID, messageID, text string) error
	FinalizeMessage(ctx context.Context, sessionID, messageID, content string, trace *types.Trace, sources []types.Source) (types.Message, error)
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
	ListMessages(ctx context.Context, sessionID string) ([]types.Message, error)
}

// Observer is told about every visible change to the transcript
type Observer interface {
	OnMessage(msg types.Message)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(msg types.Message)

func (f ObserverFunc) OnMessage(msg types.Message) {
	f(msg)
}

// Options tunes a Session. Zero values fall back to defaults.
type Options struct {
	TitleMaxLength int
	// HistoryLimit caps the prior messages sent to the model; 0 sends all
	HistoryLimit int
	SystemPrompt string
	// StreamTimeout bounds a whole query; 0 means no bound beyond ctx
	StreamTimeout time.Duration

	Logger        logger.Logger
	Observability *logger.ObservabilityLogger
	Metrics       *metrics.Metrics
}

// Session serializes queries against one chat session
type Session struct {
	id     string
	store  MessageStore
	source llm.TokenSource
	opts   Options

	mu        sync.Mutex
	state     State
	inFlight  bool
	closed    bool
	observers []Observer
}

func New(sessionID string, store MessageStore, source llm.TokenSource, opts Options) *Session {
	if opts.TitleMaxLength <= 0 {
		opts.TitleMaxLength = DefaultTitleMaxLength
	}
	return &Session{
		id:     sessionID,
		store:  store,
		source: source,
		opts:   opts,
		state:  StateIdle,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether a query is in flight
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Subscribe registers an observer for every future query
func (s *Session) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Close releases the session. A query in flight runs to completion.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.observers = nil
	return nil
}

// run is the bookkeeping of one Submit call
type run struct {
	ctx       context.Context
	storeCtx  context.Context
	requestID string
	log       logger.Logger
	observers []Observer
	bot       types.Message
	text      strings.Builder
	fragments int
}

// Submit runs query to completion and returns the committed bot message.
// Extra observers see this query only. On a transport failure the bot message
// holds ApologyMessage and the error wraps ErrTransport; a failed commit also
// leaves ApologyMessage. If ctx ends mid-stream the text received so far is
// committed; with nothing received the query errors.
func (s *Session) Submit(ctx context.Context, query string, extra ...Observer) (types.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return types.Message{}, ErrEmptyQuery
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.Message{}, ErrClosed
	}
	if s.inFlight {
		s.mu.Unlock()
		return types.Message{}, ErrBusy
	}
	s.inFlight = true
	observers := append(append([]Observer(nil), s.observers...), extra...)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	if s.opts.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.StreamTimeout)
		defer cancel()
	}

	r := &run{
		ctx: ctx,
		// the transcript must stay consistent even when the caller goes away
		storeCtx:  context.WithoutCancel(ctx),
		requestID: internal.GetRequestID(ctx),
		log:       s.runLogger(ctx),
		observers: observers,
	}
	return s.submit(r, query)
}

// runLogger prefers Options.Logger, then a logger carried by ctx
func (s *Session) runLogger(ctx context.Context) logger.Logger {
	log := s.opts.Logger
	if log == nil {
		log = logger.ConditionalLogger(ctx)
	}
	return log.WithComponent(logger.ComponentSession).WithSession(s.id)
}

func (s *Session) submit(r *run, query string) (types.Message, error) {
	history, err := s.store.ListMessages(r.storeCtx, s.id)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to load transcript: %w", err)
	}
	logger.LogQueryReceived(r.ctx, r.log, len(query), len(history))
	if s.opts.Observability != nil {
		s.opts.Observability.Query(r.requestID, s.id, len(query))
	}

	user, err := s.store.AppendMessage(r.storeCtx, s.id, types.SenderUser, query)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to record query: %w", err)
	}
	s.transition(r, StateUserRecorded)
	s.notify(r, user)

	if !hasUserMessage(history) {
		title := DeriveTitle(query, s.opts.TitleMaxLength)
		if err := s.store.UpdateSessionTitle(r.storeCtx, s.id, title); err != nil {
			r.log.Warn("%s Failed to set session title: %v", logger.EmojiWarning, err)
		} else {
			logger.LogTitleDerived(r.ctx, r.log, title)
		}
	}

	bot, err := s.store.AppendMessage(r.storeCtx, s.id, types.SenderBot, "")
	if err != nil {
		s.transition(r, StateErrored)
		s.opts.Metrics.ObserveOutcome(StateErrored.String())
		return types.Message{}, fmt.Errorf("failed to create bot message: %w", err)
	}
	r.bot = bot
	s.transition(r, StateBotPending)
	s.notify(r, bot)

	// Errored is only entered from BotStreaming or Finalizing
	s.transition(r, StateBotStreaming)
	started := time.Now()
	stream, err := s.source.Stream(r.ctx, llm.Request{
		Query:        query,
		History:      llm.TrimHistory(history, s.opts.HistoryLimit),
		SystemPrompt: s.opts.SystemPrompt,
	})
	if err != nil {
		return s.fail(r, err)
	}
	defer stream.Close()
	logger.LogStreamOpened(r.ctx, r.log, s.source.Name())

	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if r.ctx.Err() == nil {
				return s.fail(r, err)
			}
			if r.fragments == 0 {
				return s.fail(r, r.ctx.Err())
			}
			r.log.Warn("%s Query cancelled after %d fragments, committing partial answer", logger.EmojiWarning, r.fragments)
			break
		}
		if err := s.applyFragment(r, fragment); err != nil {
			return types.Message{}, err
		}
	}
	s.opts.Metrics.ObserveStreamDuration(time.Since(started))

	return s.finalize(r, started)
}

// applyFragment appends one fragment to the bot message
func (s *Session) applyFragment(r *run, fragment string) error {
	if s.State() >= StateFinalizing {
		return ErrFinalized
	}
	if fragment == "" {
		return nil
	}
	r.text.WriteString(fragment)
	r.fragments++
	s.opts.Metrics.ObserveFragment()

	text := r.text.String()
	if err := s.store.UpdateMessageText(r.storeCtx, s.id, r.bot.ID, text); err != nil {
		// the commit rewrites the text, so a lost intermediate update only delays it
		r.log.Warn("%s Failed to store fragment %d: %v", logger.EmojiWarning, r.fragments, err)
	}
	logger.LogFragment(r.ctx, r.log, r.fragments, len(fragment), len(text))

	visible := r.bot.Clone()
	visible.Text = text
	s.notify(r, visible)
	return nil
}

func (s *Session) finalize(r *run, started time.Time) (types.Message, error) {
	s.transition(r, StateFinalizing)

	report := parser.Extract(r.text.String())
	result := report.Result
	s.recordParse(r, report)

	final, err := s.store.FinalizeMessage(r.storeCtx, s.id, r.bot.ID, result.Content, result.Trace, result.Sources)
	if err != nil {
		r.log.Error("%s Failed to commit answer: %v", logger.EmojiError, err)
		return s.apologize(r), fmt.Errorf("failed to commit answer: %w", err)
	}

	s.transition(r, StateCommitted)
	s.opts.Metrics.ObserveOutcome(StateCommitted.String())
	logger.LogCommitted(r.ctx, r.log, r.fragments, time.Since(started))
	s.notify(r, final)
	return final, nil
}

func (s *Session) recordParse(r *run, report *parser.Report) {
	kinds := make([]string, 0, len(report.Issues))
	for _, issue := range report.Issues {
		var pe *parser.ParseError
		if errors.As(issue, &pe) {
			kinds = append(kinds, pe.Kind.String())
		}
		if pe != nil && pe.Kind == parser.KindUnrecognizedFormat {
			continue
		}
		r.log.Warn("%s Recovered from malformed response: %v", logger.EmojiWarning, issue)
	}
	s.opts.Metrics.ObserveParse(string(report.Protocol), kinds)

	result := report.Result
	planSteps, toolSteps := 0, 0
	if result.Trace != nil {
		planSteps, toolSteps = len(result.Trace.Plan), len(result.Trace.Steps)
	}
	logger.LogParseOutcome(r.ctx, r.log, string(report.Protocol), planSteps, toolSteps, len(result.Sources), len(report.Issues))
	if s.opts.Observability != nil {
		s.opts.Observability.ParseOutcome(r.requestID, s.id, string(report.Protocol), report.Issues, map[string]interface{}{
			"plan_steps": planSteps,
			"tool_steps": toolSteps,
			"sources":    len(result.Sources),
		})
	}
}

// fail ends the query with the apology in place of whatever was streamed
func (s *Session) fail(r *run, cause error) (types.Message, error) {
	logger.LogStreamFailure(r.ctx, r.log, cause, r.fragments)
	if s.opts.Observability != nil {
		s.opts.Observability.StreamFailure(r.requestID, s.id, cause, r.fragments)
	}

	apology := s.apologize(r)
	if r.ctx.Err() != nil && errors.Is(cause, r.ctx.Err()) {
		return apology, cause
	}
	return apology, fmt.Errorf("%w: %w", ErrTransport, cause)
}

// apologize moves to Errored and commits ApologyMessage without trace or sources
func (s *Session) apologize(r *run) types.Message {
	s.transition(r, StateErrored)
	s.opts.Metrics.ObserveOutcome(StateErrored.String())

	apology, err := s.store.FinalizeMessage(r.storeCtx, s.id, r.bot.ID, ApologyMessage, nil, nil)
	if err != nil {
		r.log.Error("%s Failed to store apology: %v", logger.EmojiError, err)
		apology = r.bot.Clone()
		apology.Text = ApologyMessage
		apology.Trace = nil
		apology.Sources = nil
	}
	s.notify(r, apology)
	return apology
}

func (s *Session) transition(r *run, to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	logger.LogSessionTransition(r.ctx, r.log, from.String(), to.String())
	if s.opts.Observability != nil {
		s.opts.Observability.SessionTransition(r.requestID, s.id, from.String(), to.String())
	}
}

func (s *Session) notify(r *run, msg types.Message) {
	for _, o := range r.observers {
		o.OnMessage(msg.Clone())
	}
}

func hasUserMessage(messages []types.Message) bool {
	for _, m := range messages {
		if m.Sender == types.SenderUser {
			return true
		}
	}
	return false
}
