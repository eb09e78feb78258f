package state

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/config"
	"github.com/tunevault/tunevault/internal/library"
)

// AsisPrefix marks the synthetic candidate derived from on-disk metadata.
const AsisPrefix = "asis-"

// Folder is a scanned album folder: absolute path, content hash and
// classification. Instances are immutable; a changed hash means a new
// Folder.
type Folder struct {
	Path    string
	Hash    string
	IsAlbum bool
}

// CandidateChoice selects a candidate for one task: an explicit
// candidate id, or one of the Best/Asis wildcards.
type CandidateChoice string

const (
	ChoiceBest CandidateChoice = "best"
	ChoiceAsis CandidateChoice = "asis"
)

// SessionState is one execution of the import pipeline over one folder.
// Only the worker that owns a session mutates it.
type SessionState struct {
	ID             uuid.UUID
	FolderHash     string
	FolderPath     string
	FolderRevision int
	Tasks          []*TaskState
	Exc            *apperr.Serialized
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewSession snapshots the folder's hash and path into a fresh session
// with an empty task list.
func NewSession(folder Folder) *SessionState {
	now := time.Now().UTC()
	return &SessionState{
		ID:         uuid.New(),
		FolderHash: folder.Hash,
		FolderPath: folder.Path,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// UpsertTask returns the task wrapping handle, appending a new one on
// first sight. Idempotent by handle identity.
func (s *SessionState) UpsertTask(handle *library.ImportTask) *TaskState {
	for _, t := range s.Tasks {
		if t.Handle == handle {
			return t
		}
	}
	t := &TaskState{
		ID:      uuid.New(),
		Session: s,
		Handle:  handle,
	}
	s.Tasks = append(s.Tasks, t)
	return t
}

// Task looks a task up by id.
func (s *SessionState) Task(id uuid.UUID) *TaskState {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Progress is the minimum over all tasks, NotStarted with no tasks.
func (s *SessionState) Progress() Progress {
	if len(s.Tasks) == 0 {
		return NotStarted
	}
	min := s.Tasks[0].Progress()
	for _, t := range s.Tasks[1:] {
		if p := t.Progress(); p < min {
			min = p
		}
	}
	return min
}

// Completed reports whether the session reached a terminal progress.
func (s *SessionState) Completed() bool {
	switch s.Progress() {
	case PreviewCompleted, ImportCompleted, DeletionCompleted:
		return true
	}
	return false
}

// Fail records the failure payload. A failed session advances no
// further.
func (s *SessionState) Fail(err error) {
	s.Exc = apperr.Serialize(err)
	s.UpdatedAt = time.Now().UTC()
}

// ClearExc removes a previous failure after a successful run.
func (s *SessionState) ClearExc() {
	s.Exc = nil
}

// TaskState is one album-candidate-group within a session.
type TaskState struct {
	ID      uuid.UUID
	Session *SessionState
	Handle  *library.ImportTask

	Candidates        []*CandidateState
	ChosenCandidateID string
	OldPaths          []string
	ImportedAlbumIDs  []int64

	// Attached by external callers.
	DuplicateAction config.DuplicateAction
	SearchIDs       []string
	SearchArtist    string
	SearchAlbum     string

	progress Progress
	asis     *CandidateState
}

func (t *TaskState) Progress() Progress { return t.progress }

// SetProgress advances the task. Regressions are programming errors,
// with one sanctioned exception: Deleting settles into the terminal
// DeletionCompleted, which sits lower on the ordinal.
func (t *TaskState) SetProgress(p Progress) {
	if p < t.progress && !(t.progress == Deleting && p == DeletionCompleted) {
		panic(fmt.Sprintf("task %s: progress regression %s -> %s", t.ID, t.progress, p))
	}
	t.progress = p
	if t.Session != nil {
		t.Session.UpdatedAt = time.Now().UTC()
	}
}

// RestoreProgress rebuilds a task's progress from a persisted row,
// bypassing the monotonicity check. Only the store uses this.
func (t *TaskState) RestoreProgress(p Progress) { t.progress = p }

// AsisCandidate returns the synthetic candidate built from the task's
// on-disk metadata, constructing it on first call.
func (t *TaskState) AsisCandidate() *CandidateState {
	if t.asis == nil {
		for _, c := range t.Candidates {
			if c.IsAsis {
				t.asis = c
				return t.asis
			}
		}
		mapping := make(map[int]int, len(t.Handle.Items))
		tracks := make([]library.TrackInfo, len(t.Handle.Items))
		for i, item := range t.Handle.Items {
			mapping[i] = i
			tracks[i] = library.TrackInfo{Title: item.Title, Artist: item.Artist, Index: item.Track, Length: item.Length}
		}
		t.asis = &CandidateState{
			ID:   AsisPrefix + t.ID.String(),
			Task: t,
			Type: "album",
			Info: library.AlbumInfo{
				Album:  t.Handle.Current.Album,
				Artist: t.Handle.Current.Artist,
				Tracks: tracks,
			},
			Mapping: mapping,
			IsAsis:  true,
		}
		t.Candidates = append(t.Candidates, t.asis)
	}
	return t.asis
}

// AddCandidate appends c unless a candidate with the same match id is
// already present; returns the candidate now in the list.
func (t *TaskState) AddCandidate(c *CandidateState) *CandidateState {
	for _, existing := range t.Candidates {
		if existing.Info.AlbumID != "" && existing.Info.AlbumID == c.Info.AlbumID {
			return existing
		}
	}
	c.Task = t
	t.Candidates = append(t.Candidates, c)
	return c
}

// Candidate looks a candidate up by id.
func (t *TaskState) Candidate(id string) *CandidateState {
	for _, c := range t.Candidates {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// BestCandidate returns the non-asis candidate with the lowest
// distance, or nil when only the asis candidate exists.
func (t *TaskState) BestCandidate() *CandidateState {
	var best *CandidateState
	for _, c := range t.Candidates {
		if c.IsAsis {
			continue
		}
		if best == nil || c.Distance < best.Distance {
			best = c
		}
	}
	return best
}

// Choose binds the chosen candidate. The id must name a candidate of
// this task.
func (t *TaskState) Choose(id string) error {
	if t.Candidate(id) == nil {
		return apperr.InvalidUsage("candidate %s does not belong to task %s", id, t.ID)
	}
	t.ChosenCandidateID = id
	return nil
}

// Chosen returns the bound candidate, or nil before a decision.
func (t *TaskState) Chosen() *CandidateState {
	if t.ChosenCandidateID == "" {
		return nil
	}
	return t.Candidate(t.ChosenCandidateID)
}

// CandidateState is one potential match for a task.
type CandidateState struct {
	ID   string
	Task *TaskState

	Type      string // "album" or "track"
	Info      library.AlbumInfo
	Distance  float64
	Penalties []string
	Mapping   map[int]int // item index -> track index

	DuplicateIDs []int64
	IsAsis       bool
}

// IdentifyDuplicates queries the library for albums matching this
// candidate on the configured keys and records their ids. Albums whose
// files are all among this task's own items are the re-import case and
// are excluded.
func (c *CandidateState) IdentifyDuplicates(ctx context.Context, lib library.Library, keys []string) error {
	albums, err := lib.QueryDuplicates(ctx, c.Info, keys)
	if err != nil {
		return fmt.Errorf("duplicate query: %w", err)
	}

	taskPaths := make(map[string]bool, len(c.Task.Handle.Items))
	for _, item := range c.Task.Handle.Items {
		taskPaths[item.Path] = true
	}

	c.DuplicateIDs = c.DuplicateIDs[:0]
	for _, album := range albums {
		items, err := lib.AlbumItems(ctx, album.ID)
		if err != nil {
			return fmt.Errorf("album %d items: %w", album.ID, err)
		}
		subset := len(items) > 0
		for _, item := range items {
			if !taskPaths[item.Path] {
				subset = false
				break
			}
		}
		if subset {
			continue
		}
		c.DuplicateIDs = append(c.DuplicateIDs, album.ID)
	}
	sort.Slice(c.DuplicateIDs, func(i, j int) bool { return c.DuplicateIDs[i] < c.DuplicateIDs[j] })
	return nil
}
