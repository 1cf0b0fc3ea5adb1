package observability

import (
	"fmt"
	"time"
)

// Metrics summarizes client activity derived from the event log.
type Metrics struct {
	JobsUploaded      int            `json:"jobs_uploaded"`
	JobsByStatus      map[string]int `json:"jobs_by_status"`
	AnalysesRequested int            `json:"analyses_requested"`
	PersonasConfirmed int            `json:"personas_confirmed"`
	ChatSessions      int            `json:"chat_sessions"`
	StreamsCompleted  int            `json:"streams_completed"`
	StreamsFailed     int            `json:"streams_failed"`
	StreamsStopped    int            `json:"streams_stopped"`
	ChunksReceived    int            `json:"chunks_received"`
	AgentMessages     int            `json:"agent_messages"`
	AvgStreamMillis   int64          `json:"avg_stream_ms"`
	EventCount        int            `json:"event_count"`
	OldestEvent       *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent       *time.Time     `json:"newest_event,omitempty"`

	streamMillisTotal int64
	streamMillisCount int64
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator reading from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate aggregates every event at or after since.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{JobsByStatus: make(map[string]int)}
	m.EventCount = len(events)

	for i, event := range events {
		t := event.Time
		if i == 0 {
			m.OldestEvent = &t
		}
		m.NewestEvent = &t

		switch event.Type {
		case "job.uploaded":
			m.JobsUploaded++
		case "job.status_changed":
			if status, ok := event.Data["new_status"].(string); ok {
				m.JobsByStatus[status]++
			}
		case "job.analyze_requested":
			m.AnalysesRequested++
		case "persona.confirmed":
			m.PersonasConfirmed++
		case "chat.session_started":
			m.ChatSessions++
		case "chat.stream_completed":
			m.StreamsCompleted++
			m.addStream(event)
		case "chat.stream_failed":
			m.StreamsFailed++
			m.addStream(event)
		case "chat.stream_stopped":
			m.StreamsStopped++
			m.addStream(event)
		case "agent.proactive_message":
			m.AgentMessages++
		}
	}

	if m.streamMillisCount > 0 {
		m.AvgStreamMillis = m.streamMillisTotal / m.streamMillisCount
	}
	return m, nil
}

// addStream accumulates chunk and duration figures. Numbers decoded from
// JSON arrive as float64.
func (m *Metrics) addStream(event Event) {
	if n, ok := event.Data["chunks"].(float64); ok {
		m.ChunksReceived += int(n)
	}
	if ms, ok := event.Data["duration_ms"].(float64); ok {
		m.streamMillisTotal += int64(ms)
		m.streamMillisCount++
	}
}
