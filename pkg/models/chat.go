package models

// StyleMode selects how the backend grounds persona replies.
type StyleMode string

const (
	StylePrompt StyleMode = "prompt"
	StyleRAG    StyleMode = "rag"
	StyleHybrid StyleMode = "hybrid"
)

// DefaultStyleMode is used when a chat session does not specify one.
const DefaultStyleMode = StyleHybrid

// IsValid reports whether m is a known style mode.
func (m StyleMode) IsValid() bool {
	switch m {
	case StylePrompt, StyleRAG, StyleHybrid:
		return true
	}
	return false
}

// ChatRequest is the body of a streaming chat call.
type ChatRequest struct {
	SessionID    string    `json:"session_id"`
	JobID        string    `json:"job_id"`
	Message      string    `json:"message"`
	AgentEnabled bool      `json:"agent_enabled"`
	StyleMode    StyleMode `json:"style_mode,omitempty"`
}

// Message is one entry in a chat conversation.
type Message struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsUser    bool   `json:"is_user"`
	Timestamp string `json:"timestamp"`
}

// AgentPollResult is one answer from the proactive-message endpoint.
// Seq and Error are filled in on the client side.
type AgentPollResult struct {
	ShouldSend bool   `json:"should_send"`
	Message    string `json:"message,omitempty"`
	Seq        uint64 `json:"-"`
	Error      string `json:"-"`
}

// Settings holds user-adjustable backend settings.
type Settings struct {
	AgentEnabled bool `json:"agent_enabled" yaml:"agent_enabled"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	OK bool `json:"ok"`
}
