package core

import (
	"context"
	"io"

	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// JobFetcher retrieves the raw body of a job status response. Non-2xx
// responses and transport failures are returned as errors.
type JobFetcher interface {
	FetchJob(ctx context.Context, jobID string) ([]byte, error)
}

// AgentPollFetcher asks the backend whether a proactive message is due.
type AgentPollFetcher interface {
	PollAgent(ctx context.Context, sessionID string) (models.AgentPollResult, error)
}

// FlowBackend is the set of one-shot backend mutations used by the session flow.
type FlowBackend interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
	AnalyzeJob(ctx context.Context, jobID, targetSpeaker string) error
	ConfirmPersona(ctx context.Context, jobID string, profile models.PersonaProfile) error
}

// SettingsBackend reads and writes backend settings.
type SettingsBackend interface {
	GetSettings(ctx context.Context) (models.Settings, error)
	UpdateSettings(ctx context.Context, settings models.Settings) (models.Settings, error)
}

// ChatStreamer sends one chat message and delivers the reply incrementally.
// At most one of onComplete and onError is called, and neither is called
// after Stop.
type ChatStreamer interface {
	Send(ctx context.Context, req models.ChatRequest, onChunk func(string), onComplete func(), onError func(error))
	Stop()
	Loading() bool
}
