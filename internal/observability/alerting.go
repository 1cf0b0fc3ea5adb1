package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert conditions.
const (
	ConditionJobStalled     = "job_stalled"
	ConditionJobFailed      = "job_failed"
	ConditionStreamFailures = "stream_failures"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`

	JobID     string `json:"job_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// Since is when the condition started: the last status change of a
	// stalled or failed job, or the first failure of a stream streak.
	Since    time.Time `json:"since,omitempty"`
	Failures int       `json:"failures,omitempty"`
}

// Age is how long the condition has held at TriggeredAt.
func (a Alert) Age() time.Duration {
	if a.Since.IsZero() || a.TriggeredAt.Before(a.Since) {
		return 0
	}
	return a.TriggeredAt.Sub(a.Since)
}

// AlertThresholds configures when alerts fire.
type AlertThresholds struct {
	StalledJobMinutes int `yaml:"stalled_job_minutes" json:"stalled_job_minutes"`
	MaxStreamFailures int `yaml:"max_stream_failures" json:"max_stream_failures"`
}

// DefaultAlertThresholds returns the default alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		StalledJobMinutes: 10,
		MaxStreamFailures: 3,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates an AlertEngine over eventLog. Non-positive
// thresholds fall back to the defaults.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	def := DefaultAlertThresholds()
	if thresholds.StalledJobMinutes <= 0 {
		thresholds.StalledJobMinutes = def.StalledJobMinutes
	}
	if thresholds.MaxStreamFailures <= 0 {
		thresholds.MaxStreamFailures = def.MaxStreamFailures
	}
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate checks every condition. Alerts are ordered by condition and id.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}
	now := ae.now()

	var alerts []Alert
	alerts = append(alerts, ae.checkJobs(events, now)...)
	alerts = append(alerts, ae.checkStreamFailures(events, now)...)

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Condition != alerts[j].Condition {
			return alerts[i].Condition < alerts[j].Condition
		}
		return alerts[i].ID < alerts[j].ID
	})
	return alerts, nil
}

type jobState struct {
	status    string
	changedAt time.Time
}

// checkJobs reports jobs whose last known status is error, and jobs still
// queued or running with no status change for longer than the threshold.
func (ae *alertEngine) checkJobs(events []Event, now time.Time) []Alert {
	jobs := make(map[string]*jobState)
	for _, event := range events {
		jobID := event.JobID()
		if jobID == "" {
			continue
		}
		switch event.Type {
		case "job.uploaded":
			jobs[jobID] = &jobState{status: "queued", changedAt: event.Time}
		case "job.status_changed":
			if status, _ := event.Data["new_status"].(string); status != "" {
				jobs[jobID] = &jobState{status: status, changedAt: event.Time}
			}
		case "persona.confirmed":
			delete(jobs, jobID)
		}
	}

	threshold := time.Duration(ae.thresholds.StalledJobMinutes) * time.Minute
	var alerts []Alert
	for jobID, state := range jobs {
		switch {
		case state.status == "error":
			alerts = append(alerts, Alert{
				ID:          "failed-" + jobID,
				Condition:   ConditionJobFailed,
				Severity:    SeverityHigh,
				Message:     fmt.Sprintf("job %s failed", jobID),
				TriggeredAt: now,
				JobID:       jobID,
				Since:       state.changedAt,
			})
		case (state.status == "queued" || state.status == "running") && now.Sub(state.changedAt) > threshold:
			alerts = append(alerts, Alert{
				ID:          "stalled-" + jobID,
				Condition:   ConditionJobStalled,
				Severity:    SeverityMedium,
				Message:     fmt.Sprintf("job %s has been %s for more than %d minutes", jobID, state.status, ae.thresholds.StalledJobMinutes),
				TriggeredAt: now,
				JobID:       jobID,
				Since:       state.changedAt,
			})
		}
	}
	return alerts
}

// checkStreamFailures reports chat sessions whose latest streams failed
// consecutively at least the threshold number of times.
func (ae *alertEngine) checkStreamFailures(events []Event, now time.Time) []Alert {
	type streak struct {
		jobID string
		first time.Time
		count int
	}
	streaks := make(map[string]*streak)
	for _, event := range events {
		sessionID, _ := event.Data["session_id"].(string)
		if sessionID == "" {
			continue
		}
		switch event.Type {
		case "chat.stream_failed":
			st := streaks[sessionID]
			if st == nil || st.count == 0 {
				st = &streak{first: event.Time}
				streaks[sessionID] = st
			}
			if jobID := event.JobID(); jobID != "" {
				st.jobID = jobID
			}
			st.count++
		case "chat.stream_completed":
			delete(streaks, sessionID)
		}
	}

	var alerts []Alert
	for sessionID, st := range streaks {
		if st.count < ae.thresholds.MaxStreamFailures {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          "streams-" + sessionID,
			Condition:   ConditionStreamFailures,
			Severity:    SeverityLow,
			Message:     fmt.Sprintf("chat session %s had %d consecutive failed replies", sessionID, st.count),
			TriggeredAt: now,
			JobID:       st.jobID,
			SessionID:   sessionID,
			Since:       st.first,
			Failures:    st.count,
		})
	}
	return alerts
}
