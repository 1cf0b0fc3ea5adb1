package core

import (
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// QueryCache holds short-lived query snapshots keyed by query identity.
// This interface is defined locally in core to avoid importing storage.
type QueryCache interface {
	Set(key string, value any)
	Get(key string) (any, bool)
	Delete(key string)
}

// DraftStore persists the locally edited persona profile between review
// and confirmation.
// This interface is defined locally in core to avoid importing storage.
type DraftStore interface {
	SaveDraft(draft models.ProfileDraft) error
	LoadDraft(jobID string) (*models.ProfileDraft, error)
	DeleteDraft(jobID string) error
}

// Cache key builders. Every cached query is addressed by one of these.

// JobCacheKey addresses the latest snapshot of a job.
func JobCacheKey(jobID string) string { return "job:" + jobID }

// AgentPollCacheKey addresses the latest agent poll result of a session.
func AgentPollCacheKey(sessionID string) string { return "agent-poll:" + sessionID }

// SettingsCacheKey addresses the cached backend settings.
const SettingsCacheKey = "settings"

// nopCache is used when no cache is configured.
type nopCache struct{}

func (nopCache) Set(string, any)        {}
func (nopCache) Get(string) (any, bool) { return nil, false }
func (nopCache) Delete(string)          {}
