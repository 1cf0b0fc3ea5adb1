package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/memory-talk/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrEmptyMessage is returned when a blank message is submitted.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrStreamBusy is returned when a message is submitted while a reply is
	// still streaming.
	ErrStreamBusy = errors.New("a reply is still streaming")
)

const (
	// PlaceholderText is shown in the persona message until the first chunk arrives.
	PlaceholderText = "..."
	// ErrorTextPrefix prefixes the persona message when a stream fails.
	ErrorTextPrefix = "error: "
	// DefaultPersonaName labels persona messages when no speaker was selected.
	DefaultPersonaName = "persona"
)

// ChatSessionOptions configures a ChatSession.
type ChatSessionOptions struct {
	JobID        string
	StyleMode    models.StyleMode
	AgentEnabled bool
	PersonaName  string

	Streamer    ChatStreamer
	AgentPoller *AgentPoller
	EventLog    EventLogger
	Instruments Instruments
	Logger      *zap.Logger
}

// ChatSession is a live conversation with a confirmed persona. A session
// id is generated once per session and sent with every message.
type ChatSession struct {
	ID           string
	JobID        string
	StyleMode    models.StyleMode
	AgentEnabled bool
	PersonaName  string

	conv        *Conversation
	streamer    ChatStreamer
	agent       *AgentPoller
	eventLog    EventLogger
	instruments Instruments
	logger      *zap.Logger

	busy   atomic.Bool
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChatSession creates a chat session for the given job.
func NewChatSession(opts ChatSessionOptions) *ChatSession {
	if !opts.StyleMode.IsValid() {
		opts.StyleMode = models.DefaultStyleMode
	}
	if opts.PersonaName == "" {
		opts.PersonaName = DefaultPersonaName
	}
	if opts.Instruments == nil {
		opts.Instruments = nopInstruments{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &ChatSession{
		ID:           uuid.NewString(),
		JobID:        opts.JobID,
		StyleMode:    opts.StyleMode,
		AgentEnabled: opts.AgentEnabled,
		PersonaName:  opts.PersonaName,
		conv:         NewConversation(),
		streamer:     opts.Streamer,
		agent:        opts.AgentPoller,
		eventLog:     opts.EventLog,
		instruments:  opts.Instruments,
		logger:       opts.Logger.With(zap.String("job_id", opts.JobID)),
	}
}

// Conversation returns the session's message timeline.
func (s *ChatSession) Conversation() *Conversation {
	return s.conv
}

// Start begins agent polling for the lifetime of the session. It is a no-op
// without an agent poller or when already started.
func (s *ChatSession) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent == nil || s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	logEvent(s.eventLog, EventChatSessionStarted, map[string]any{
		"session_id": s.ID,
		"job_id":     s.JobID,
		"style_mode": string(s.StyleMode),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.agent.Run(ctx, s.ID, func(res models.AgentPollResult) {
			if s.conv.ApplyAgentPoll(res) {
				logEvent(s.eventLog, EventAgentMessage, map[string]any{
					"session_id": s.ID,
					"job_id":     s.JobID,
				})
			}
		})
	}()
}

// Loading reports whether a reply is streaming.
func (s *ChatSession) Loading() bool {
	return s.busy.Load() || s.streamer.Loading()
}

// Submit sends text to the persona and streams the reply into a new persona
// message. It blocks until the stream ends. A stream failure is returned and
// also written into the persona message; a stopped stream returns nil.
func (s *ChatSession) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if s.streamer.Loading() || !s.busy.CompareAndSwap(false, true) {
		return ErrStreamBusy
	}
	defer s.busy.Store(false)

	s.conv.Append(text, true)
	replyID := s.conv.Append(PlaceholderText, false)

	req := models.ChatRequest{
		SessionID:    s.ID,
		JobID:        s.JobID,
		Message:      text,
		AgentEnabled: s.AgentEnabled,
		StyleMode:    s.StyleMode,
	}

	var (
		reply     strings.Builder
		chunks    int
		streamErr error
		completed bool
	)
	start := time.Now()
	s.streamer.Send(ctx, req,
		func(chunk string) {
			chunks++
			reply.WriteString(chunk)
			s.conv.Patch(replyID, reply.String())
		},
		func() {
			completed = true
		},
		func(err error) {
			streamErr = err
			s.conv.Patch(replyID, ErrorTextPrefix+err.Error())
		},
	)
	elapsed := time.Since(start)

	data := map[string]any{
		"session_id":  s.ID,
		"job_id":      s.JobID,
		"chunks":      chunks,
		"duration_ms": elapsed.Milliseconds(),
	}
	switch {
	case streamErr != nil:
		s.instruments.ObserveStream(OutcomeError, chunks, elapsed)
		s.logger.Warn("chat stream failed", zap.Error(streamErr), zap.Int("chunks", chunks))
		data["error"] = streamErr.Error()
		logEvent(s.eventLog, EventStreamFailed, data)
		return streamErr
	case completed:
		s.instruments.ObserveStream(OutcomeOK, chunks, elapsed)
		logEvent(s.eventLog, EventStreamCompleted, data)
	default:
		s.instruments.ObserveStream("stopped", chunks, elapsed)
		logEvent(s.eventLog, EventStreamStopped, data)
	}
	return nil
}

// Stop aborts the in-flight reply, if any.
func (s *ChatSession) Stop() {
	s.streamer.Stop()
}

// Close stops agent polling and any in-flight reply.
func (s *ChatSession) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	s.streamer.Stop()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
