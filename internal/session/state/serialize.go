package state

import (
	"strconv"
	"time"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/library"
)

// Wire forms sent to clients and stored in job results. Keys are part
// of the frontend contract and stay stable across schema versions.

type SerializedProgress struct {
	Progress   string `json:"progress"`
	Message    string `json:"message,omitempty"`
	PluginName string `json:"plugin_name,omitempty"`
}

type SerializedCandidate struct {
	ID           string              `json:"id"`
	DuplicateIDs []int64             `json:"duplicate_ids"`
	Type         string              `json:"type"`
	Penalties    []string            `json:"penalties"`
	Distance     float64             `json:"distance"`
	Info         library.AlbumInfo   `json:"info"`
	Tracks       []library.TrackInfo `json:"tracks"`
	Mapping      map[string]int      `json:"mapping"`
}

type SerializedTask struct {
	ID                 string                `json:"id"`
	TopPath            string                `json:"toppath,omitempty"`
	Paths              []string              `json:"paths"`
	Items              []library.ItemInfo    `json:"items"`
	CurrentMetadata    library.Metadata      `json:"current_metadata"`
	Candidates         []SerializedCandidate `json:"candidates"`
	DuplicateAction    string                `json:"duplicate_action,omitempty"`
	CurrentCandidateID string                `json:"current_candidate_id,omitempty"`
	Completed          bool                  `json:"completed"`
	AsisCandidate      string                `json:"asis_candidate"`
}

type SerializedSession struct {
	ID             string             `json:"id"`
	FolderHash     string             `json:"folder_hash"`
	FolderPath     string             `json:"folder_path"`
	FolderRevision int                `json:"folder_revision"`
	Status         SerializedProgress `json:"status"`
	Tasks          []SerializedTask   `json:"tasks"`
	Completed      bool               `json:"completed"`
	Exc            *apperr.Serialized `json:"exc,omitempty"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at"`
}

// Serialize flattens the live session graph into its wire form.
// Timestamps are RFC3339 UTC; mappings become integer-index maps with
// string keys for JSON.
func Serialize(s *SessionState) SerializedSession {
	out := SerializedSession{
		ID:             s.ID.String(),
		FolderHash:     s.FolderHash,
		FolderPath:     s.FolderPath,
		FolderRevision: s.FolderRevision,
		Status:         SerializedProgress{Progress: s.Progress().String()},
		Completed:      s.Completed(),
		Exc:            s.Exc,
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      s.UpdatedAt.UTC().Format(time.RFC3339),
		Tasks:          make([]SerializedTask, 0, len(s.Tasks)),
	}
	for _, t := range s.Tasks {
		out.Tasks = append(out.Tasks, serializeTask(t))
	}
	return out
}

func serializeTask(t *TaskState) SerializedTask {
	st := SerializedTask{
		ID:                 t.ID.String(),
		TopPath:            t.Handle.TopPath,
		Paths:              t.Handle.Paths,
		Items:              t.Handle.Items,
		CurrentMetadata:    t.Handle.Current,
		DuplicateAction:    string(t.DuplicateAction),
		CurrentCandidateID: t.ChosenCandidateID,
		Completed:          t.Progress() >= PreviewCompleted,
		AsisCandidate:      t.AsisCandidate().ID,
		Candidates:         make([]SerializedCandidate, 0, len(t.Candidates)),
	}
	for _, c := range t.Candidates {
		st.Candidates = append(st.Candidates, serializeCandidate(c))
	}
	return st
}

func serializeCandidate(c *CandidateState) SerializedCandidate {
	sc := SerializedCandidate{
		ID:           c.ID,
		DuplicateIDs: c.DuplicateIDs,
		Type:         c.Type,
		Penalties:    c.Penalties,
		Distance:     c.Distance,
		Info:         c.Info,
		Tracks:       c.Info.Tracks,
		Mapping:      make(map[string]int, len(c.Mapping)),
	}
	if sc.DuplicateIDs == nil {
		sc.DuplicateIDs = []int64{}
	}
	if sc.Penalties == nil {
		sc.Penalties = []string{}
	}
	for i, j := range c.Mapping {
		sc.Mapping[strconv.Itoa(i)] = j
	}
	return sc
}
