package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/valter-silva-au/memory-talk/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrDraftNotFound is returned when no draft exists for a job.
var ErrDraftNotFound = errors.New("profile draft not found")

// safeJobID restricts job ids used as file names.
var safeJobID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DraftStoreManager defines the interface for the profile drafts kept under
// drafts/ while a persona is being reviewed.
type DraftStoreManager interface {
	SaveDraft(draft models.ProfileDraft) error
	LoadDraft(jobID string) (*models.ProfileDraft, error)
	DeleteDraft(jobID string) error
	ListDrafts() ([]string, error)
	DraftPath(jobID string) string
}

type fileDraftStore struct {
	basePath string
}

// NewDraftStoreManager creates a DraftStoreManager backed by YAML files
// under drafts/ in the given base directory.
func NewDraftStoreManager(basePath string) DraftStoreManager {
	return &fileDraftStore{basePath: basePath}
}

func (s *fileDraftStore) draftsDir() string {
	return filepath.Join(s.basePath, "drafts")
}

// DraftPath returns the file holding the draft of a job.
func (s *fileDraftStore) DraftPath(jobID string) string {
	return filepath.Join(s.draftsDir(), jobID+".yaml")
}

func validateJobID(jobID string) error {
	if !safeJobID.MatchString(jobID) || jobID == "." || jobID == ".." {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	return nil
}

// SaveDraft writes the draft atomically, replacing any previous one.
func (s *fileDraftStore) SaveDraft(draft models.ProfileDraft) error {
	if err := validateJobID(draft.JobID); err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}
	if err := os.MkdirAll(s.draftsDir(), 0o755); err != nil {
		return fmt.Errorf("saving draft %s: creating directory: %w", draft.JobID, err)
	}

	data, err := yaml.Marshal(&draft)
	if err != nil {
		return fmt.Errorf("saving draft %s: marshaling: %w", draft.JobID, err)
	}

	path := s.DraftPath(draft.JobID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("saving draft %s: writing: %w", draft.JobID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("saving draft %s: renaming: %w", draft.JobID, err)
	}
	return nil
}

// LoadDraft reads the draft of a job.
func (s *fileDraftStore) LoadDraft(jobID string) (*models.ProfileDraft, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, fmt.Errorf("loading draft: %w", err)
	}
	data, err := os.ReadFile(s.DraftPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("loading draft %s: %w", jobID, ErrDraftNotFound)
		}
		return nil, fmt.Errorf("loading draft %s: %w", jobID, err)
	}

	var draft models.ProfileDraft
	if err := yaml.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("loading draft %s: parsing: %w", jobID, err)
	}
	if draft.JobID == "" {
		draft.JobID = jobID
	}
	return &draft, nil
}

// DeleteDraft removes the draft of a job. Deleting a missing draft is not an error.
func (s *fileDraftStore) DeleteDraft(jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	if err := os.Remove(s.DraftPath(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting draft %s: %w", jobID, err)
	}
	return nil
}

// ListDrafts returns the job ids that have a draft, sorted.
func (s *fileDraftStore) ListDrafts() ([]string, error) {
	entries, err := os.ReadDir(s.draftsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}
