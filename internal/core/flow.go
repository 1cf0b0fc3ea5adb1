package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/valter-silva-au/memory-talk/pkg/models"
	"go.uber.org/zap"
)

// FlowState is a step of the upload-to-chat session flow.
type FlowState string

const (
	StateIdle              FlowState = "idle"
	StateUploading         FlowState = "uploading"
	StateProcessing        FlowState = "processing"
	StateAwaitingSelection FlowState = "awaiting_selection"
	StateReviewing         FlowState = "reviewing"
	StateChatting          FlowState = "chatting"
	StateError             FlowState = "error"
)

// DefaultReviewDelay is how long a completed job stays visible before the
// flow moves on to review.
const DefaultReviewDelay = 800 * time.Millisecond

var (
	// ErrUnsupportedFile is returned for uploads that are not plain-text chat logs.
	ErrUnsupportedFile = errors.New("only .txt chat logs are supported")
	// ErrNoSpeaker is returned when analysis is requested without a speaker.
	ErrNoSpeaker = errors.New("a speaker must be selected")
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("invalid flow transition")
	// ErrFlowBusy is returned while another backend call of the flow is outstanding.
	ErrFlowBusy = errors.New("another flow operation is in progress")
	// ErrMissingReport is the failure recorded when a job finishes without a report.
	ErrMissingReport = errors.New("job finished without a persona report")
)

// allowedTransitions lists the states reachable from each state.
var allowedTransitions = map[FlowState][]FlowState{
	StateIdle:              {StateUploading, StateProcessing},
	StateUploading:         {StateProcessing, StateError},
	StateProcessing:        {StateAwaitingSelection, StateReviewing, StateError},
	StateAwaitingSelection: {StateProcessing, StateError},
	StateReviewing:         {StateChatting},
	StateChatting:          {},
	StateError:             {StateIdle},
}

// CanTransition reports whether the flow may move from one state to another.
func CanTransition(from, to FlowState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsChatLogFile reports whether a file looks like a plain-text chat log,
// judged by its MIME type or its .txt suffix.
func IsChatLogFile(name, mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/plain") {
		return true
	}
	return strings.HasSuffix(name, ".txt")
}

// FlowSnapshot is a consistent view of the flow at one point in time.
type FlowSnapshot struct {
	State   FlowState
	JobID   string
	Job     *models.Job
	Draft   *models.ProfileDraft
	Session *ChatSession
	Err     error
}

// ChatFactory builds the chat session entered after confirmation.
type ChatFactory func(jobID, personaName string) *ChatSession

// FlowOptions configures a SessionFlow.
type FlowOptions struct {
	Backend     FlowBackend
	Poller      *JobPoller
	Drafts      DraftStore
	NewChat     ChatFactory
	ReviewDelay time.Duration
	EventLog    EventLogger
	Logger      *zap.Logger

	// AfterFunc schedules f after d and returns a stop function. Defaults
	// to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) (stop func() bool)
}

// SessionFlow drives a user from chat-log upload through analysis, optional
// speaker selection and profile review into a chat session.
type SessionFlow struct {
	opts FlowOptions

	mu          sync.Mutex
	state       FlowState
	jobID       string
	job         *models.Job
	draft       *models.ProfileDraft
	session     *ChatSession
	lastErr     error
	analyzing   bool
	busy        bool
	pollGen     uint64
	pollCancel  context.CancelFunc
	reviewStop  func() bool
	listeners   []func(FlowSnapshot)
	ctx         context.Context
	cancel      context.CancelFunc
	pollingDone sync.WaitGroup
}

// NewSessionFlow creates a flow in the Idle state.
func NewSessionFlow(opts FlowOptions) *SessionFlow {
	if opts.ReviewDelay < 0 {
		opts.ReviewDelay = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionFlow{
		opts:   opts,
		state:  StateIdle,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers fn to receive a snapshot after every change.
func (f *SessionFlow) Subscribe(fn func(FlowSnapshot)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Snapshot returns the current state of the flow.
func (f *SessionFlow) Snapshot() FlowSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// State returns the current flow state.
func (f *SessionFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *SessionFlow) snapshotLocked() FlowSnapshot {
	snap := FlowSnapshot{
		State:   f.state,
		JobID:   f.jobID,
		Session: f.session,
		Err:     f.lastErr,
	}
	if f.job != nil {
		job := *f.job
		snap.Job = &job
	}
	if f.draft != nil {
		draft := *f.draft
		snap.Draft = &draft
	}
	return snap
}

// setStateLocked moves the flow to a new state. Staying in the same state
// is always allowed.
func (f *SessionFlow) setStateLocked(to FlowState) error {
	from := f.state
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	f.state = to
	f.opts.Logger.Debug("flow transition",
		zap.String("from", string(from)), zap.String("to", string(to)), zap.String("job_id", f.jobID))
	logEvent(f.opts.EventLog, EventFlowTransition, map[string]any{
		"job_id": f.jobID,
		"from":   string(from),
		"to":     string(to),
	})
	return nil
}

// unlockAndNotify releases the lock and delivers a snapshot to listeners.
func (f *SessionFlow) unlockAndNotify() {
	snap := f.snapshotLocked()
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (f *SessionFlow) failLocked(err error) {
	f.lastErr = err
	if setErr := f.setStateLocked(StateError); setErr != nil {
		f.opts.Logger.Warn("cannot enter error state", zap.Error(setErr))
	}
}

// Upload validates and uploads a chat log, then starts polling the
// resulting job. Non-.txt files are rejected before any network call.
func (f *SessionFlow) Upload(ctx context.Context, name string, r io.Reader) error {
	if !IsChatLogFile(name, mime.TypeByExtension(filepath.Ext(name))) {
		return fmt.Errorf("uploading %s: %w", name, ErrUnsupportedFile)
	}

	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrFlowBusy
	}
	if err := f.setStateLocked(StateUploading); err != nil {
		f.mu.Unlock()
		return err
	}
	f.busy = true
	f.lastErr = nil
	f.unlockAndNotify()

	jobID, err := f.opts.Backend.Upload(ctx, filepath.Base(name), r)

	f.mu.Lock()
	f.busy = false
	if err != nil {
		f.failLocked(fmt.Errorf("uploading %s: %w", name, err))
		f.unlockAndNotify()
		return err
	}
	f.jobID = jobID
	logEvent(f.opts.EventLog, EventJobUploaded, map[string]any{"job_id": jobID, "file": filepath.Base(name)})
	if err := f.setStateLocked(StateProcessing); err != nil {
		f.mu.Unlock()
		return err
	}
	f.startPollingLocked(false)
	f.unlockAndNotify()
	return nil
}

// Attach resumes the flow for an already uploaded job.
func (f *SessionFlow) Attach(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("attaching job: job id is required")
	}
	f.mu.Lock()
	if err := f.setStateLocked(StateProcessing); err != nil {
		f.mu.Unlock()
		return err
	}
	f.jobID = jobID
	f.lastErr = nil
	f.startPollingLocked(false)
	f.unlockAndNotify()
	return nil
}

// startPollingLocked replaces any running poll loop with a new one.
func (f *SessionFlow) startPollingLocked(force bool) {
	f.stopPollingLocked()
	if f.opts.Poller == nil {
		return
	}
	f.opts.Poller.SetForcePolling(force)

	f.pollGen++
	gen := f.pollGen
	jobID := f.jobID
	ctx, cancel := context.WithCancel(f.ctx)
	f.pollCancel = cancel

	f.pollingDone.Add(1)
	go func() {
		defer f.pollingDone.Done()
		err := f.opts.Poller.Run(ctx, jobID, func(job models.Job) {
			f.observe(gen, job)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			f.opts.Logger.Warn("job polling stopped", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
}

func (f *SessionFlow) stopPollingLocked() {
	if f.pollCancel != nil {
		f.pollCancel()
		f.pollCancel = nil
	}
	if f.reviewStop != nil {
		f.reviewStop()
		f.reviewStop = nil
	}
}

// observe applies one job snapshot from poll loop generation gen.
func (f *SessionFlow) observe(gen uint64, job models.Job) {
	f.mu.Lock()
	if gen != f.pollGen || (job.JobID != "" && f.jobID != "" && job.JobID != f.jobID) {
		f.mu.Unlock()
		return
	}
	if f.state != StateProcessing && f.state != StateAwaitingSelection {
		f.mu.Unlock()
		return
	}

	if f.job == nil || f.job.Status != job.Status {
		prev := ""
		if f.job != nil {
			prev = string(f.job.Status)
		}
		logEvent(f.opts.EventLog, EventJobStatusChanged, map[string]any{
			"job_id":     f.jobID,
			"old_status": prev,
			"new_status": string(job.Status),
			"progress":   job.Progress,
		})
	}
	snapshot := job
	f.job = &snapshot

	switch job.Status {
	case models.JobQueued, models.JobRunning:
		// Still processing.
	case models.JobAwaitingSelection:
		if !f.analyzing {
			_ = f.setStateLocked(StateAwaitingSelection)
		}
	case models.JobDone:
		if job.Report == nil {
			f.failLocked(ErrMissingReport)
			break
		}
		if f.reviewStop == nil {
			f.reviewStop = f.opts.AfterFunc(f.opts.ReviewDelay, func() {
				f.enterReview(gen)
			})
		}
	case models.JobError:
		msg := job.Error
		if msg == "" {
			msg = "analysis failed"
		}
		f.failLocked(errors.New(msg))
	}
	f.unlockAndNotify()
}

func (f *SessionFlow) enterReview(gen uint64) {
	f.mu.Lock()
	f.reviewStop = nil
	if gen != f.pollGen || f.state != StateProcessing || f.job == nil || f.job.Report == nil {
		f.mu.Unlock()
		return
	}

	draft := &models.ProfileDraft{
		JobID:           f.jobID,
		SelectedSpeaker: f.job.SelectedSpeaker,
		Summary:         f.job.Report.Summary,
		Profile:         f.job.Report.Profile,
		Updated:         time.Now().UTC(),
	}
	if f.opts.Drafts != nil {
		if err := f.opts.Drafts.SaveDraft(*draft); err != nil {
			f.opts.Logger.Warn("saving profile draft", zap.String("job_id", f.jobID), zap.Error(err))
		}
	}
	f.draft = draft
	_ = f.setStateLocked(StateReviewing)
	f.unlockAndNotify()
}

// SelectSpeaker requests analysis of the given speaker and resumes polling
// with force polling enabled. On failure the flow stays in AwaitingSelection.
func (f *SessionFlow) SelectSpeaker(ctx context.Context, speaker string) error {
	speaker = strings.TrimSpace(speaker)
	if speaker == "" {
		return ErrNoSpeaker
	}

	f.mu.Lock()
	if f.state != StateAwaitingSelection {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: cannot select a speaker while %s", ErrInvalidTransition, state)
	}
	if f.busy {
		f.mu.Unlock()
		return ErrFlowBusy
	}
	f.busy = true
	jobID := f.jobID
	f.mu.Unlock()

	err := f.opts.Backend.AnalyzeJob(ctx, jobID, speaker)

	f.mu.Lock()
	f.busy = false
	if err != nil {
		f.lastErr = fmt.Errorf("analyzing %s: %w", speaker, err)
		f.unlockAndNotify()
		return err
	}
	f.lastErr = nil
	f.analyzing = true
	logEvent(f.opts.EventLog, EventJobAnalyzeRequest, map[string]any{"job_id": jobID, "speaker": speaker})
	if f.opts.Poller != nil {
		f.opts.Poller.Invalidate(jobID)
	}
	if err := f.setStateLocked(StateProcessing); err != nil {
		f.mu.Unlock()
		return err
	}
	f.startPollingLocked(true)
	f.unlockAndNotify()
	return nil
}

// UpdateProfile edits the profile under review and persists the draft.
func (f *SessionFlow) UpdateProfile(edit func(*models.PersonaProfile)) error {
	f.mu.Lock()
	if f.state != StateReviewing || f.draft == nil {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: cannot edit the profile while %s", ErrInvalidTransition, state)
	}
	edit(&f.draft.Profile)
	f.draft.Updated = time.Now().UTC()
	var saveErr error
	if f.opts.Drafts != nil {
		saveErr = f.opts.Drafts.SaveDraft(*f.draft)
	}
	f.unlockAndNotify()
	if saveErr != nil {
		return fmt.Errorf("saving profile draft: %w", saveErr)
	}
	return nil
}

// Confirm submits the reviewed profile. On success the local draft is
// discarded and the flow enters Chatting with a new chat session; on
// failure it stays in Reviewing.
func (f *SessionFlow) Confirm(ctx context.Context) (*ChatSession, error) {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return nil, ErrFlowBusy
	}
	if f.state != StateReviewing || f.draft == nil {
		state := f.state
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot confirm while %s", ErrInvalidTransition, state)
	}
	f.busy = true
	jobID := f.jobID
	draft := *f.draft
	f.mu.Unlock()

	err := f.opts.Backend.ConfirmPersona(ctx, jobID, draft.Profile)

	f.mu.Lock()
	if err != nil {
		f.busy = false
		f.lastErr = fmt.Errorf("confirming persona: %w", err)
		f.unlockAndNotify()
		return nil, err
	}
	f.lastErr = nil
	if f.opts.Drafts != nil {
		if err := f.opts.Drafts.DeleteDraft(jobID); err != nil {
			f.opts.Logger.Warn("deleting profile draft", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	if f.opts.Poller != nil {
		f.opts.Poller.Invalidate(jobID)
	}
	f.draft = nil
	logEvent(f.opts.EventLog, EventPersonaConfirmed, map[string]any{"job_id": jobID, "speaker": draft.SelectedSpeaker})
	// busy stays set until the chat session is published.
	f.mu.Unlock()

	personaName := draft.SelectedSpeaker
	if personaName == "" {
		personaName = DefaultPersonaName
	}
	var session *ChatSession
	if f.opts.NewChat != nil {
		session = f.opts.NewChat(jobID, personaName)
		session.Start(f.ctx)
	}

	f.mu.Lock()
	f.busy = false
	if err := f.setStateLocked(StateChatting); err != nil {
		f.mu.Unlock()
		if session != nil {
			session.Close()
		}
		return nil, err
	}
	f.session = session
	f.unlockAndNotify()
	return session, nil
}

// Retry returns a failed flow to Idle so a new upload can start.
func (f *SessionFlow) Retry() error {
	f.mu.Lock()
	if err := f.setStateLocked(StateIdle); err != nil {
		f.mu.Unlock()
		return err
	}
	f.stopPollingLocked()
	f.jobID = ""
	f.job = nil
	f.draft = nil
	f.lastErr = nil
	f.analyzing = false
	f.unlockAndNotify()
	return nil
}

// Close stops polling and the chat session, if any.
func (f *SessionFlow) Close() {
	f.mu.Lock()
	f.stopPollingLocked()
	session := f.session
	f.mu.Unlock()

	f.cancel()
	f.pollingDone.Wait()
	if session != nil {
		session.Close()
	}
}
