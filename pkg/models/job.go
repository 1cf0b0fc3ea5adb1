package models

// JobStatus represents the lifecycle state of a server-side analysis job.
type JobStatus string

const (
	JobQueued            JobStatus = "queued"
	JobRunning           JobStatus = "running"
	JobAwaitingSelection JobStatus = "awaiting_selection"
	JobDone              JobStatus = "done"
	JobError             JobStatus = "error"
)

// ValidJobStatuses lists every status the backend may report.
var ValidJobStatuses = []JobStatus{JobQueued, JobRunning, JobAwaitingSelection, JobDone, JobError}

// IsValid reports whether s is one of the known job statuses.
func (s JobStatus) IsValid() bool {
	for _, v := range ValidJobStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// HonorificLevel describes how formally the persona addresses the user.
type HonorificLevel string

const (
	HonorificInformal HonorificLevel = "informal"
	HonorificPolite   HonorificLevel = "polite"
	HonorificMixed    HonorificLevel = "mixed"
)

// EmojiUsage describes how often the persona uses emoji.
type EmojiUsage string

const (
	EmojiLow    EmojiUsage = "low"
	EmojiMedium EmojiUsage = "medium"
	EmojiHigh   EmojiUsage = "high"
)

// Punctuation describes the persona's punctuation habits.
type Punctuation string

const (
	PunctuationShort  Punctuation = "short"
	PunctuationNormal Punctuation = "normal"
	PunctuationMany   Punctuation = "many"
)

// ResponseLength describes the persona's typical reply length.
type ResponseLength string

const (
	ResponseShort  ResponseLength = "short"
	ResponseMedium ResponseLength = "medium"
	ResponseLong   ResponseLength = "long"
)

// SpeechStyle captures the stylistic traits of a persona.
type SpeechStyle struct {
	Endings        []string       `json:"endings" yaml:"endings" validate:"required"`
	HonorificLevel HonorificLevel `json:"honorific_level" yaml:"honorific_level" validate:"oneof=informal polite mixed"`
	EmojiUsage     EmojiUsage     `json:"emoji_usage" yaml:"emoji_usage" validate:"oneof=low medium high"`
	Punctuation    Punctuation    `json:"punctuation" yaml:"punctuation" validate:"oneof=short normal many"`
}

// FewShotExample is a sample exchange used to prime the persona.
type FewShotExample struct {
	User    string `json:"user" yaml:"user"`
	Persona string `json:"persona" yaml:"persona"`
}

// PersonaProfile is the structured description of a persona extracted from
// a chat log. It is edited during review and sent verbatim on confirm.
type PersonaProfile struct {
	NicknameRules   []string         `json:"nickname_rules" yaml:"nickname_rules" validate:"required"`
	FavoriteTopics  []string         `json:"favorite_topics" yaml:"favorite_topics" validate:"required"`
	TabooTopics     []string         `json:"taboo_topics" yaml:"taboo_topics" validate:"required"`
	TypicalPatterns []string         `json:"typical_patterns" yaml:"typical_patterns" validate:"required"`
	SpeechStyle     SpeechStyle      `json:"speech_style" yaml:"speech_style"`
	ResponseLength  ResponseLength   `json:"response_length" yaml:"response_length" validate:"oneof=short medium long"`
	FewShotExamples []FewShotExample `json:"few_shot_examples" yaml:"few_shot_examples" validate:"required"`
}

// PersonaReport is attached to a job once analysis completes.
type PersonaReport struct {
	Summary string         `json:"summary" yaml:"summary"`
	Profile PersonaProfile `json:"profile" yaml:"profile"`
}

// Job is a server-side analysis job as observed by the client.
type Job struct {
	JobID           string         `json:"job_id" validate:"required"`
	Status          JobStatus      `json:"status" validate:"oneof=queued running awaiting_selection done error"`
	Progress        float64        `json:"progress"`
	Speakers        []string       `json:"speakers,omitempty"`
	SelectedSpeaker string         `json:"selected_speaker,omitempty"`
	Report          *PersonaReport `json:"report,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// IsTerminal reports whether polling should stop at this job snapshot.
// awaiting_selection is terminal unless force is set.
func (j Job) IsTerminal(force bool) bool {
	switch j.Status {
	case JobDone, JobError:
		return true
	case JobAwaitingSelection:
		return !force
	default:
		return false
	}
}

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	JobID string `json:"job_id"`
}

// AnalyzeRequest selects the speaker whose persona should be extracted.
type AnalyzeRequest struct {
	TargetSpeaker string `json:"target_speaker"`
}

// ConfirmRequest submits the reviewed persona profile.
type ConfirmRequest struct {
	JobID          string         `json:"job_id"`
	PersonaProfile PersonaProfile `json:"persona_profile"`
}

// OKResponse is the generic acknowledgement body.
type OKResponse struct {
	OK bool `json:"ok"`
}
