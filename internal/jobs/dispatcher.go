package jobs

import (
	"context"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/session/state"
	"github.com/tunevault/tunevault/internal/status"
)

// Job ids are deterministic per folder and per queue, so a folder can
// hold at most one queued preview-type and one queued import-type job.
func previewJobID(hash string) string { return "preview:" + hash }
func importJobID(hash string) string  { return "import:" + hash }

// sessionSource is the slice of the session store the dispatcher needs.
type sessionSource interface {
	SessionByHash(ctx context.Context, hash string) (*state.SessionState, error)
}

// Dispatcher is the enqueue surface. All precondition checks happen
// here, before anything hits the queue; workers trust their payloads.
type Dispatcher struct {
	queue    *Queue
	store    sessionSource
	notifier status.Notifier
}

func NewDispatcher(q *Queue, st sessionSource, notifier status.Notifier) *Dispatcher {
	return &Dispatcher{queue: q, store: st, notifier: notifier}
}

func (d *Dispatcher) meta(hash, path, jobID, kind, frontendRef string) status.JobMeta {
	return status.JobMeta{
		FolderHash:  hash,
		FolderPath:  path,
		JobID:       jobID,
		JobKind:     kind,
		FrontendRef: frontendRef,
	}
}

func (d *Dispatcher) enqueue(taskType, queue string, payload interface{}, meta status.JobMeta) (status.JobMeta, error) {
	d.notifier.FolderStatus(meta.FolderHash, meta.FolderPath, state.StatusPending, nil)
	if _, err := d.queue.Enqueue(taskType, queue, payload, meta.JobID); err != nil {
		d.notifier.FolderStatus(meta.FolderHash, meta.FolderPath, state.StatusFailed, err)
		return meta, err
	}
	d.notifier.JobStatus(meta.JobKind+" queued", []status.JobMeta{meta})
	return meta, nil
}

// sessionProgress loads the latest session for hash and reports where
// it stands. Each entry point phrases its own precondition failure, in
// the same words the worker layer would use, so a rejected enqueue and
// a rejected job read identically to the client.
func (d *Dispatcher) sessionProgress(ctx context.Context, hash string) (state.Progress, error) {
	sess, err := d.store.SessionByHash(ctx, hash)
	if err != nil {
		return state.NotStarted, err
	}
	return sess.Progress(), nil
}

func (d *Dispatcher) Preview(ctx context.Context, hash, path, frontendRef string) (status.JobMeta, error) {
	meta := d.meta(hash, path, previewJobID(hash), TaskPreview, frontendRef)
	return d.enqueue(TaskPreview, QueuePreview, PreviewPayload{Meta: meta}, meta)
}

func (d *Dispatcher) AddCandidates(ctx context.Context, hash, path string, searchIDs []string,
	searchArtist, searchAlbum, frontendRef string) (status.JobMeta, error) {
	meta := d.meta(hash, path, previewJobID(hash), TaskPreviewAddCandidates, frontendRef)
	p, err := d.sessionProgress(ctx, hash)
	if err != nil {
		return meta, err
	}
	if p < state.PreviewCompleted {
		return meta, apperr.InvalidUsage("session has no completed preview to add candidates to (at %s)", p)
	}
	if len(searchIDs) == 0 && searchArtist == "" && searchAlbum == "" {
		return meta, apperr.InvalidUsage("nothing to search for")
	}
	return d.enqueue(TaskPreviewAddCandidates, QueuePreview, AddCandidatesPayload{
		Meta:         meta,
		SearchIDs:    searchIDs,
		SearchArtist: searchArtist,
		SearchAlbum:  searchAlbum,
	}, meta)
}

func (d *Dispatcher) ImportCandidate(ctx context.Context, hash, path string,
	candidateIDs, duplicateActions map[string]string, frontendRef string) (status.JobMeta, error) {
	meta := d.meta(hash, path, importJobID(hash), TaskImportCandidate, frontendRef)
	p, err := d.sessionProgress(ctx, hash)
	if err != nil {
		return meta, err
	}
	if p != state.PreviewCompleted {
		return meta, apperr.InvalidUsage("Cannot redo imports. Try undo and/or retag!")
	}
	return d.enqueue(TaskImportCandidate, QueueImport, ImportCandidatePayload{
		Meta:             meta,
		CandidateIDs:     candidateIDs,
		DuplicateActions: duplicateActions,
	}, meta)
}

// ImportAuto enqueues the preview half; the worker enqueues the import
// half only after the preview succeeds, which is what serializes the
// two jobs on the same folder.
func (d *Dispatcher) ImportAuto(ctx context.Context, hash, path string, importThreshold float64,
	duplicateActions map[string]string, frontendRef string) (status.JobMeta, error) {
	meta := d.meta(hash, path, previewJobID(hash), TaskImportAuto, frontendRef)
	return d.enqueue(TaskPreview, QueuePreview, PreviewPayload{
		Meta: meta,
		Chain: &AutoChain{
			ImportThreshold:  importThreshold,
			DuplicateActions: duplicateActions,
		},
	}, meta)
}

func (d *Dispatcher) ImportBootleg(ctx context.Context, hash, path, frontendRef string) (status.JobMeta, error) {
	meta := d.meta(hash, path, importJobID(hash), TaskImportBootleg, frontendRef)
	return d.enqueue(TaskImportBootleg, QueueImport, ImportBootlegPayload{Meta: meta}, meta)
}

func (d *Dispatcher) ImportUndo(ctx context.Context, hash, path string, deleteFiles bool, frontendRef string) (status.JobMeta, error) {
	meta := d.meta(hash, path, importJobID(hash), TaskImportUndo, frontendRef)
	p, err := d.sessionProgress(ctx, hash)
	if err != nil {
		return meta, err
	}
	if p != state.ImportCompleted {
		return meta, apperr.InvalidUsage("Cannot undo if never imported (session is at %s)", p)
	}
	return d.enqueue(TaskImportUndo, QueueImport, ImportUndoPayload{Meta: meta, DeleteFiles: deleteFiles}, meta)
}

// Result reads back a finished job's stored exception, nil when the
// job succeeded or is unknown.
func (d *Dispatcher) Result(queue, jobID string) []byte {
	return d.queue.Result(queue, jobID)
}

// Revoke drops a queued job for the folder before it starts.
func (d *Dispatcher) Revoke(queue, jobID string) error {
	return d.queue.Revoke(queue, jobID)
}
