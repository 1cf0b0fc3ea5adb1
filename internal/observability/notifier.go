package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Notifier sends alert notifications to external channels.
type Notifier interface {
	Notify(ctx context.Context, alerts []Alert) error
}

// SlackNotifier posts alert digests to a Slack incoming webhook. Job alerts
// and chat session alerts are grouped into separate sections.
type SlackNotifier struct {
	webhookURL string
	backendURL string
	client     *http.Client
	now        func() time.Time
}

// NewSlackNotifier creates a SlackNotifier. backendURL names the analysis
// backend in the digest header and may be empty.
func NewSlackNotifier(webhookURL, backendURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		backendURL: backendURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Notify posts one digest for alerts. An empty slice sends nothing.
func (s *SlackNotifier) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	body, err := json.Marshal(s.digest(alerts))
	if err != nil {
		return fmt.Errorf("encoding slack digest: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %d alerts to slack: %w", len(alerts), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Slack explains rejected payloads in a short plain-text body.
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if msg := strings.TrimSpace(string(reason)); msg != "" {
			return fmt.Errorf("slack webhook returned status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackNotifier) digest(alerts []Alert) slackMessage {
	var jobs, sessions []Alert
	for _, a := range alerts {
		if a.Condition == ConditionStreamFailures {
			sessions = append(sessions, a)
		} else {
			jobs = append(jobs, a)
		}
	}
	bySeverity := func(list []Alert) {
		sort.SliceStable(list, func(i, j int) bool {
			ri, rj := severityOrder(list[i].Severity), severityOrder(list[j].Severity)
			if ri != rj {
				return ri < rj
			}
			return list[i].ID < list[j].ID
		})
	}
	bySeverity(jobs)
	bySeverity(sessions)

	title := fmt.Sprintf("mtalk: %d alert(s)", len(alerts))
	if s.backendURL != "" {
		title += " for " + s.backendURL
	}
	msg := slackMessage{
		Text:   title,
		Blocks: []slackBlock{{Type: "header", Text: &slackText{Type: "plain_text", Text: title}}},
	}

	if len(jobs) > 0 {
		lines := []string{"*Analysis jobs*"}
		for _, a := range jobs {
			lines = append(lines, jobLine(a))
		}
		msg.Blocks = append(msg.Blocks, mrkdwnSection(lines))
	}
	if len(sessions) > 0 {
		if len(jobs) > 0 {
			msg.Blocks = append(msg.Blocks, slackBlock{Type: "divider"})
		}
		lines := []string{"*Chat sessions*"}
		for _, a := range sessions {
			lines = append(lines, sessionLine(a))
		}
		msg.Blocks = append(msg.Blocks, mrkdwnSection(lines))
	}

	msg.Blocks = append(msg.Blocks, slackBlock{
		Type:     "context",
		Elements: []slackText{{Type: "mrkdwn", Text: "Evaluated " + s.now().Format("2006-01-02 15:04 UTC")}},
	})
	return msg
}

func mrkdwnSection(lines []string) slackBlock {
	return slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: strings.Join(lines, "\n")}}
}

// jobLine renders a failed or stalled job with how long it has been so.
func jobLine(a Alert) string {
	id := a.JobID
	if id == "" {
		id = a.ID
	}
	switch a.Condition {
	case ConditionJobFailed:
		return fmt.Sprintf("%s `%s` failed %s ago", severityEmoji(a.Severity), id, formatAge(a.Age()))
	case ConditionJobStalled:
		return fmt.Sprintf("%s `%s` has not progressed for %s", severityEmoji(a.Severity), id, formatAge(a.Age()))
	default:
		return fmt.Sprintf("%s `%s` %s", severityEmoji(a.Severity), id, a.Message)
	}
}

// sessionLine renders a session's failure streak and the job it chats with.
func sessionLine(a Alert) string {
	line := fmt.Sprintf("%s `%s` %d failed replies in a row over %s",
		severityEmoji(a.Severity), a.SessionID, a.Failures, formatAge(a.Age()))
	if a.JobID != "" {
		line += fmt.Sprintf(" (job `%s`)", a.JobID)
	}
	return line
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "<1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	default:
		return fmt.Sprintf("%dh%02dm", int(d/time.Hour), int(d%time.Hour/time.Minute))
	}
}

func severityOrder(s AlertSeverity) int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}

func severityEmoji(severity AlertSeverity) string {
	switch severity {
	case SeverityHigh:
		return "\U0001f534"
	case SeverityMedium:
		return "\U0001f7e1"
	case SeverityLow:
		return "\U0001f535"
	default:
		return "❓"
	}
}
