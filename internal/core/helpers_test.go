package core

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// scriptedFetcher returns one scripted response per call and repeats the
// last one once the script runs out.
type scriptedFetcher struct {
	mu     sync.Mutex
	script []fetchResult
	calls  int
}

type fetchResult struct {
	body string
	err  error
}

func (f *scriptedFetcher) FetchJob(ctx context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) == 0 {
		return nil, errors.New("no script")
	}
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	r := f.script[i]
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

// push appends responses to the script.
func (f *scriptedFetcher) push(bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range bodies {
		f.script = append(f.script, fetchResult{body: b})
	}
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastPoller(f JobFetcher) *JobPoller {
	return NewJobPoller(f, JobPollerOptions{
		InitialInterval: time.Millisecond,
		Interval:        time.Millisecond,
		RetryBackoff:    time.Millisecond,
	})
}

// mapCache implements QueryCache.
type mapCache struct {
	mu sync.Mutex
	m  map[string]any
}

func newMapCache() *mapCache { return &mapCache{m: make(map[string]any)} }

func (c *mapCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *mapCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *mapCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

// eventRecorder implements EventLogger.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type string
	Data map[string]any
}

func (r *eventRecorder) LogEvent(eventType string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, Data: data})
	return nil
}

func (r *eventRecorder) ofType(eventType string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// stubStreamer implements ChatStreamer. With block set, Send waits until
// Stop is called or ctx ends and then returns without a callback.
type stubStreamer struct {
	mu      sync.Mutex
	chunks  []string
	err     error
	block   bool
	reqs    []models.ChatRequest
	stopped chan struct{}
	started chan struct{}
	loading bool
}

func newStubStreamer(chunks ...string) *stubStreamer {
	return &stubStreamer{chunks: chunks, stopped: make(chan struct{}, 1), started: make(chan struct{}, 1)}
}

func (s *stubStreamer) Send(ctx context.Context, req models.ChatRequest, onChunk func(string), onComplete func(), onError func(error)) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.loading = true
	chunks, err, block := s.chunks, s.err, s.block
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	for _, c := range chunks {
		onChunk(c)
	}
	if block {
		s.started <- struct{}{}
		select {
		case <-s.stopped:
		case <-ctx.Done():
		}
		return
	}
	if err != nil {
		onError(err)
		return
	}
	onComplete()
}

func (s *stubStreamer) Stop() {
	select {
	case s.stopped <- struct{}{}:
	default:
	}
}

func (s *stubStreamer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *stubStreamer) requests() []models.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatRequest(nil), s.reqs...)
}

// stubFlowBackend implements FlowBackend.
type stubFlowBackend struct {
	mu         sync.Mutex
	jobID      string
	uploadErr  error
	uploads    []string
	analyzeErr error
	analyzed   []string
	confirmErr error
	confirmed  []models.PersonaProfile
	// onAnalyze runs after a successful analyze call.
	onAnalyze func()
}

func (b *stubFlowBackend) Upload(_ context.Context, filename string, r io.Reader) (string, error) {
	_, _ = io.ReadAll(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, filename)
	if b.uploadErr != nil {
		return "", b.uploadErr
	}
	return b.jobID, nil
}

func (b *stubFlowBackend) AnalyzeJob(_ context.Context, jobID, targetSpeaker string) error {
	b.mu.Lock()
	if b.analyzeErr != nil {
		b.mu.Unlock()
		return b.analyzeErr
	}
	b.analyzed = append(b.analyzed, targetSpeaker)
	hook := b.onAnalyze
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (b *stubFlowBackend) ConfirmPersona(_ context.Context, _ string, profile models.PersonaProfile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.confirmErr != nil {
		return b.confirmErr
	}
	b.confirmed = append(b.confirmed, profile)
	return nil
}

// memDrafts implements DraftStore.
type memDrafts struct {
	mu     sync.Mutex
	drafts map[string]models.ProfileDraft
}

func newMemDrafts() *memDrafts { return &memDrafts{drafts: make(map[string]models.ProfileDraft)} }

func (d *memDrafts) SaveDraft(draft models.ProfileDraft) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drafts[draft.JobID] = draft
	return nil
}

func (d *memDrafts) LoadDraft(jobID string) (*models.ProfileDraft, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.drafts[jobID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &draft, nil
}

func (d *memDrafts) DeleteDraft(jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.drafts, jobID)
	return nil
}

func (d *memDrafts) has(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.drafts[jobID]
	return ok
}

const (
	runningJob  = `{"job_id": "j1", "status": "running", "progress": 40}`
	awaitingJob = `{"job_id": "j1", "status": "awaiting_selection", "progress": 0, "speakers": ["Alice", "Bob"]}`
	doneJob     = `{
  "job_id": "j1",
  "status": "done",
  "progress": 100,
  "selected_speaker": "Bob",
  "report": {
    "summary": "Dry humor, short replies.",
    "profile": {
      "nickname_rules": ["calls you chief"],
      "favorite_topics": ["football"],
      "taboo_topics": ["work"],
      "typical_patterns": ["answers with a question"],
      "speech_style": {"endings": ["~"], "honorific_level": "informal", "emoji_usage": "low", "punctuation": "short"},
      "response_length": "short",
      "few_shot_examples": [{"user": "hey", "persona": "what's up chief"}]
    }
  }
}`
)
