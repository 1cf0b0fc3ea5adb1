package core

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/valter-silva-au/memory-talk/pkg/models"
	"go.uber.org/zap"
)

// InvalidJSONMessage is the error text of the synthetic job produced when a
// job response body is not valid JSON.
const InvalidJSONMessage = "invalid JSON response"

var (
	honorificLevels = []models.HonorificLevel{models.HonorificInformal, models.HonorificPolite, models.HonorificMixed}
	emojiUsages     = []models.EmojiUsage{models.EmojiLow, models.EmojiMedium, models.EmojiHigh}
	punctuations    = []models.Punctuation{models.PunctuationShort, models.PunctuationNormal, models.PunctuationMany}
	responseLengths = []models.ResponseLength{models.ResponseShort, models.ResponseMedium, models.ResponseLong}
)

var profileValidator = validator.New()

// ValidateProfile checks a hand-edited profile against the persona schema.
func ValidateProfile(p models.PersonaProfile) error {
	if err := profileValidator.Struct(p); err != nil {
		return fmt.Errorf("invalid persona profile: %w", err)
	}
	return nil
}

// jobShape holds what models.Job cannot tell apart after decoding: null or
// blank list elements, and few-shot examples missing a key.
type jobShape struct {
	Speakers []string     `json:"speakers" validate:"dive,required"`
	Report   *reportShape `json:"report"`
}

type reportShape struct {
	Profile struct {
		NicknameRules   []string `json:"nickname_rules" validate:"dive,required"`
		FavoriteTopics  []string `json:"favorite_topics" validate:"dive,required"`
		TabooTopics     []string `json:"taboo_topics" validate:"dive,required"`
		TypicalPatterns []string `json:"typical_patterns" validate:"dive,required"`
		SpeechStyle     struct {
			Endings []string `json:"endings" validate:"dive,required"`
		} `json:"speech_style"`
		FewShotExamples []exampleShape `json:"few_shot_examples" validate:"dive"`
	} `json:"profile"`
}

type exampleShape struct {
	User    *string `json:"user" validate:"required"`
	Persona *string `json:"persona" validate:"required"`
}

// JobDecoder turns raw job response bodies into models.Job values. Bodies
// matching the strict schema are used as-is; anything else goes through
// NormalizeJob, so decoding never fails.
type JobDecoder struct {
	validate *validator.Validate
	logger   *zap.Logger
}

// NewJobDecoder creates a JobDecoder. A nil logger disables logging.
func NewJobDecoder(logger *zap.Logger) *JobDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobDecoder{
		validate: validator.New(),
		logger:   logger,
	}
}

// Decode parses body as the job identified by jobID.
func (d *JobDecoder) Decode(body []byte, jobID string) models.Job {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		d.logger.Warn("job response is not valid JSON",
			zap.String("job_id", jobID), zap.Error(err), zap.ByteString("body", truncate(body, 512)))
		return NormalizeJob(map[string]any{
			"job_id":   jobID,
			"status":   string(models.JobError),
			"progress": 0.0,
			"error":    InvalidJSONMessage,
		}, jobID)
	}

	job, err := d.strict(body)
	if err == nil {
		return job
	}
	d.logger.Warn("job response does not match schema, normalizing",
		zap.String("job_id", jobID), zap.Error(err))
	return NormalizeJob(raw, jobID)
}

// strict decodes body and checks it against the job schema.
func (d *JobDecoder) strict(body []byte) (models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return job, err
	}
	if err := d.validate.Struct(job); err != nil {
		return job, err
	}
	var shape jobShape
	if err := json.Unmarshal(body, &shape); err != nil {
		return job, err
	}
	return job, d.validate.Struct(shape)
}

// NormalizeJob coerces any decoded JSON value into a structurally valid Job.
// It is total: every input yields a Job and no input panics.
func NormalizeJob(raw any, jobID string) models.Job {
	data := asObject(raw)

	job := models.Job{
		JobID:    jobID,
		Status:   normalizeEnum(data["status"], models.ValidJobStatuses, models.JobError),
		Progress: asNumber(data["progress"]),
	}
	if id, ok := data["job_id"].(string); ok && id != "" {
		job.JobID = id
	}
	if report, ok := data["report"].(map[string]any); ok {
		r := &models.PersonaReport{Profile: normalizeProfile(report["profile"])}
		if summary, ok := report["summary"].(string); ok {
			r.Summary = summary
		}
		job.Report = r
	}
	if msg, ok := data["error"].(string); ok {
		job.Error = msg
	}
	if speakers, ok := data["speakers"].([]any); ok {
		job.Speakers = compactStrings(speakers)
	}
	if speaker, ok := data["selected_speaker"].(string); ok {
		job.SelectedSpeaker = speaker
	}
	return job
}

func normalizeProfile(v any) models.PersonaProfile {
	p := asObject(v)
	return models.PersonaProfile{
		NicknameRules:   toStrings(p["nickname_rules"]),
		SpeechStyle:     normalizeSpeechStyle(p["speech_style"]),
		FavoriteTopics:  toStrings(p["favorite_topics"]),
		TabooTopics:     toStrings(p["taboo_topics"]),
		ResponseLength:  normalizeEnum(p["response_length"], responseLengths, models.ResponseMedium),
		TypicalPatterns: toStrings(p["typical_patterns"]),
		FewShotExamples: normalizeExamples(p["few_shot_examples"]),
	}
}

func normalizeSpeechStyle(v any) models.SpeechStyle {
	s := asObject(v)
	return models.SpeechStyle{
		Endings:        toStrings(s["endings"]),
		HonorificLevel: normalizeEnum(s["honorific_level"], honorificLevels, models.HonorificMixed),
		EmojiUsage:     normalizeEnum(s["emoji_usage"], emojiUsages, models.EmojiMedium),
		Punctuation:    normalizeEnum(s["punctuation"], punctuations, models.PunctuationNormal),
	}
}

// normalizeExamples keeps only objects carrying both a user and a persona key.
func normalizeExamples(v any) []models.FewShotExample {
	items, ok := v.([]any)
	if !ok {
		return []models.FewShotExample{}
	}
	out := make([]models.FewShotExample, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		user, hasUser := obj["user"]
		persona, hasPersona := obj["persona"]
		if !hasUser || !hasPersona {
			continue
		}
		out = append(out, models.FewShotExample{User: stringify(user), Persona: stringify(persona)})
	}
	return out
}

// toStrings converts v into a string list: arrays are compacted, a lone
// string becomes a single element, anything else is empty.
func toStrings(v any) []string {
	switch t := v.(type) {
	case []any:
		return compactStrings(t)
	case string:
		return []string{t}
	default:
		return []string{}
	}
}

// compactStrings drops falsy elements and stringifies the rest.
func compactStrings(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if !truthy(item) {
			continue
		}
		out = append(out, stringify(item))
	}
	return out
}

func normalizeEnum[T ~string](v any, allowed []T, fallback T) T {
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	for _, a := range allowed {
		if T(s) == a {
			return a
		}
	}
	return fallback
}

func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok && m != nil {
		return m
	}
	return map[string]any{}
}

func asNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// truthy reports whether a decoded JSON value counts as present: nil, false,
// zero and the empty string do not.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

// stringify renders a decoded JSON value as text. Strings are returned
// unchanged; other values use their JSON encoding.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
