package models

import "time"

// ProfileDraft is the locally edited copy of a persona profile awaiting
// confirmation. It is discarded once the backend accepts the profile.
type ProfileDraft struct {
	JobID           string         `yaml:"job_id"`
	SelectedSpeaker string         `yaml:"selected_speaker,omitempty"`
	Summary         string         `yaml:"summary"`
	Profile         PersonaProfile `yaml:"profile"`
	Updated         time.Time      `yaml:"updated"`
}
