package core

import "time"

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Instruments receives client-side measurements. The observability package
// provides the Prometheus-backed implementation.
type Instruments interface {
	ObservePoll(source, outcome string, d time.Duration)
	ObserveStream(outcome string, chunks int, d time.Duration)
}

// Event types written by core services.
const (
	EventJobUploaded        = "job.uploaded"
	EventJobStatusChanged   = "job.status_changed"
	EventJobAnalyzeRequest  = "job.analyze_requested"
	EventPersonaConfirmed   = "persona.confirmed"
	EventFlowTransition     = "flow.transition"
	EventStreamCompleted    = "chat.stream_completed"
	EventStreamFailed       = "chat.stream_failed"
	EventStreamStopped      = "chat.stream_stopped"
	EventAgentMessage       = "agent.proactive_message"
	EventSettingsUpdated    = "settings.updated"
	EventChatSessionStarted = "chat.session_started"
)

// Poll outcomes reported to Instruments.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

func logEvent(l EventLogger, eventType string, data map[string]any) {
	if l == nil {
		return
	}
	_ = l.LogEvent(eventType, data)
}

type nopInstruments struct{}

func (nopInstruments) ObservePoll(string, string, time.Duration) {}
func (nopInstruments) ObserveStream(string, int, time.Duration)  {}
