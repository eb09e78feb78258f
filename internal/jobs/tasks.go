package jobs

import (
	"github.com/tunevault/tunevault/internal/session"
	"github.com/tunevault/tunevault/internal/status"
)

// ──────── Payloads ────────
//
// Every payload embeds the JobMeta that status queries read back.
// Kwargs are JSON-encodable; this is the queue wire format.

type PreviewPayload struct {
	Meta status.JobMeta `json:"meta"`
	// Chain, when set, enqueues an auto-import after a successful
	// preview. This is how IMPORT_AUTO serializes preview and import
	// of the same folder.
	Chain *AutoChain `json:"chain,omitempty"`
}

type AutoChain struct {
	ImportThreshold  float64           `json:"import_threshold"`
	DuplicateActions map[string]string `json:"duplicate_actions,omitempty"`
}

type AddCandidatesPayload struct {
	Meta         status.JobMeta `json:"meta"`
	SearchIDs    []string       `json:"search_ids,omitempty"`
	SearchArtist string         `json:"search_artist,omitempty"`
	SearchAlbum  string         `json:"search_album,omitempty"`
}

type ImportCandidatePayload struct {
	Meta             status.JobMeta    `json:"meta"`
	CandidateIDs     map[string]string `json:"candidate_ids,omitempty"`
	DuplicateActions map[string]string `json:"duplicate_actions,omitempty"`
}

type ImportAutoPayload struct {
	Meta             status.JobMeta    `json:"meta"`
	ImportThreshold  float64           `json:"import_threshold"`
	DuplicateActions map[string]string `json:"duplicate_actions,omitempty"`
}

type ImportBootlegPayload struct {
	Meta status.JobMeta `json:"meta"`
}

type ImportUndoPayload struct {
	Meta        status.JobMeta `json:"meta"`
	DeleteFiles bool           `json:"delete_files"`
}

// ──────── Register all handlers ────────

func RegisterHandlers(q *Queue, runner *session.Runner, notifier status.Notifier) {
	h := &Handlers{runner: runner, queue: q, notifier: notifier}
	q.RegisterHandler(TaskPreview, h.preview())
	q.RegisterHandler(TaskPreviewAddCandidates, h.addCandidates())
	q.RegisterHandler(TaskImportCandidate, h.importCandidate())
	q.RegisterHandler(TaskImportAuto, h.importAuto())
	q.RegisterHandler(TaskImportBootleg, h.importBootleg())
	q.RegisterHandler(TaskImportUndo, h.importUndo())
}
