package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/config"
	"github.com/tunevault/tunevault/internal/session"
	"github.com/tunevault/tunevault/internal/session/state"
	"github.com/tunevault/tunevault/internal/status"
)

type Handlers struct {
	runner   *session.Runner
	queue    *Queue
	notifier status.Notifier
}

// run brackets a worker function with the folder-status emitter and
// the exception-as-value wrapper: user-facing errors become the job
// result and the job itself succeeds, so the queue never retries what
// only the user can fix. Infrastructure errors propagate and retry.
func (h *Handlers) run(t *asynq.Task, meta status.JobMeta, before, after state.FolderStatus,
	fn func(ctx context.Context) error) func(ctx context.Context, t *asynq.Task) error {
	return func(ctx context.Context, _ *asynq.Task) error {
		h.notifier.FolderStatus(meta.FolderHash, meta.FolderPath, before, nil)
		log.Printf("Jobs: %s starting for %s", meta.JobKind, meta.FolderPath)

		err := fn(ctx)
		if err == nil {
			h.notifier.FolderStatus(meta.FolderHash, meta.FolderPath, after, nil)
			h.notifier.JobStatus(fmt.Sprintf("%s finished", meta.JobKind), []status.JobMeta{meta})
			return nil
		}

		h.notifier.FolderStatus(meta.FolderHash, meta.FolderPath, state.StatusFailed, err)
		if apperr.IsUserFacing(err) {
			log.Printf("Jobs: %s for %s failed: %v", meta.JobKind, meta.FolderPath, err)
			if w := t.ResultWriter(); w != nil {
				data, _ := json.Marshal(apperr.Serialize(err))
				if _, werr := w.Write(data); werr != nil {
					log.Printf("Jobs: writing result for %s failed: %v", meta.JobID, werr)
				}
			}
			return nil
		}
		h.notifier.JobStatus(fmt.Sprintf("%s failed", meta.JobKind), []status.JobMeta{meta})
		return err
	}
}

func decode[P any](t *asynq.Task) (P, error) {
	var p P
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal %s payload: %w", t.Type(), err)
	}
	return p, nil
}

func (h *Handlers) preview() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := decode[PreviewPayload](t)
		if err != nil {
			return err
		}
		return h.run(t, p.Meta, state.StatusPreviewing, state.StatusTagged, func(ctx context.Context) error {
			if _, err := h.runner.RunPreview(ctx, p.Meta.FolderHash, p.Meta.FolderPath); err != nil {
				return err
			}
			if p.Chain != nil {
				// Preview succeeded; release the dependent auto-import.
				payload := ImportAutoPayload{
					Meta: status.JobMeta{
						FolderHash:  p.Meta.FolderHash,
						FolderPath:  p.Meta.FolderPath,
						JobID:       importJobID(p.Meta.FolderHash),
						JobKind:     TaskImportAuto,
						FrontendRef: p.Meta.FrontendRef,
					},
					ImportThreshold:  p.Chain.ImportThreshold,
					DuplicateActions: p.Chain.DuplicateActions,
				}
				if _, err := h.queue.Enqueue(TaskImportAuto, QueueImport, payload, payload.Meta.JobID); err != nil {
					return fmt.Errorf("chain auto-import: %w", err)
				}
				h.notifier.FolderStatus(p.Meta.FolderHash, p.Meta.FolderPath, state.StatusPending, nil)
			}
			return nil
		})(ctx, t)
	}
}

func (h *Handlers) addCandidates() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := decode[AddCandidatesPayload](t)
		if err != nil {
			return err
		}
		return h.run(t, p.Meta, state.StatusPreviewing, state.StatusTagged, func(ctx context.Context) error {
			_, err := h.runner.RunAddCandidates(ctx, p.Meta.FolderHash, session.SearchSpec{
				IDs:    p.SearchIDs,
				Artist: p.SearchArtist,
				Album:  p.SearchAlbum,
			})
			return err
		})(ctx, t)
	}
}

func (h *Handlers) importCandidate() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := decode[ImportCandidatePayload](t)
		if err != nil {
			return err
		}
		return h.run(t, p.Meta, state.StatusImporting, state.StatusImported, func(ctx context.Context) error {
			_, err := h.runner.RunImportChosen(ctx, p.Meta.FolderHash, session.ImportOptions{
				CandidateIDs:     toChoices(p.CandidateIDs),
				DuplicateActions: toActions(p.DuplicateActions),
			})
			return err
		})(ctx, t)
	}
}

func (h *Handlers) importAuto() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := decode[ImportAutoPayload](t)
		if err != nil {
			return err
		}
		return h.run(t, p.Meta, state.StatusImporting, state.StatusImported, func(ctx context.Context) error {
			_, err := h.runner.RunImportAuto(ctx, p.Meta.FolderHash, p.ImportThreshold, toActions(p.DuplicateActions))
			return err
		})(ctx, t)
	}
}

func (h *Handlers) importBootleg() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := decode[ImportBootlegPayload](t)
		if err != nil {
			return err
		}
		return h.run(t, p.Meta, state.StatusImporting, state.StatusImported, func(ctx context.Context) error {
			_, err := h.runner.RunImportBootleg(ctx, p.Meta.FolderHash, p.Meta.FolderPath)
			return err
		})(ctx, t)
	}
}

func (h *Handlers) importUndo() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := decode[ImportUndoPayload](t)
		if err != nil {
			return err
		}
		return h.run(t, p.Meta, state.StatusDeleting, state.StatusDeleted, func(ctx context.Context) error {
			_, err := h.runner.RunUndo(ctx, p.Meta.FolderHash, p.DeleteFiles)
			return err
		})(ctx, t)
	}
}

func toChoices(m map[string]string) map[string]state.CandidateChoice {
	if m == nil {
		return nil
	}
	out := make(map[string]state.CandidateChoice, len(m))
	for k, v := range m {
		out[k] = state.CandidateChoice(v)
	}
	return out
}

func toActions(m map[string]string) map[string]config.DuplicateAction {
	if m == nil {
		return nil
	}
	out := make(map[string]config.DuplicateAction, len(m))
	for k, v := range m {
		out[k] = config.DuplicateAction(v)
	}
	return out
}
