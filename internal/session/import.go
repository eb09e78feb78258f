package session

import (
	"context"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/config"
	"github.com/tunevault/tunevault/internal/pipeline"
	"github.com/tunevault/tunevault/internal/session/state"
)

// Wildcard applies a choice or duplicate action to every task.
const Wildcard = "*"

// ImportOptions parameterize an import-chosen run. Map keys are task
// ids; the "*" wildcard applies to all tasks with explicit entries
// overriding it.
type ImportOptions struct {
	CandidateIDs     map[string]state.CandidateChoice
	DuplicateActions map[string]config.DuplicateAction
}

// RunImportChosen commits the chosen candidates of a completed preview
// to the library.
func (r *Runner) RunImportChosen(ctx context.Context, hash string, opts ImportOptions) (*state.SessionState, error) {
	sess, err := r.loadSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	if err := r.prepareImport(sess, opts); err != nil {
		return nil, err
	}

	chooseFn := func(t *state.TaskState) (string, error) {
		choice, ok := lookupFor(opts.CandidateIDs, t)
		return resolveChoice(t, choice, ok)
	}
	return sess, r.runImport(ctx, sess, chooseFn)
}

// RunImportAuto commits the best candidate of every task, but only
// when it clears the distance threshold. One task over the threshold
// fails the session and nothing of that task reaches the library.
func (r *Runner) RunImportAuto(ctx context.Context, hash string, threshold float64, dupActions map[string]config.DuplicateAction) (*state.SessionState, error) {
	sess, err := r.loadSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	if err := r.prepareImport(sess, ImportOptions{DuplicateActions: dupActions}); err != nil {
		return nil, err
	}

	chooseFn := func(t *state.TaskState) (string, error) {
		best := t.BestCandidate()
		if best == nil {
			return "", apperr.NoCandidatesFound("task %s has no candidates to auto-import", t.ID)
		}
		if best.Distance > threshold {
			return "", apperr.NoCandidatesFound(
				"best candidate for task %s is at distance %.3f, above the auto-import threshold %.3f",
				t.ID, best.Distance, threshold)
		}
		return best.ID, nil
	}
	return sess, r.runImport(ctx, sess, chooseFn)
}

// RunImportBootleg imports a folder as-is, without any metadata
// lookup. The session is created on the spot when no preview exists.
func (r *Runner) RunImportBootleg(ctx context.Context, hash, path string) (*state.SessionState, error) {
	sess, err := r.loadSession(ctx, hash)
	if apperr.KindOf(err) == apperr.KindNotFound {
		sess, err = r.newBootlegSession(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	if sess.Progress() > state.PreviewCompleted {
		return nil, apperr.InvalidUsage("Cannot redo imports. Try undo and/or retag!")
	}

	chooseFn := func(t *state.TaskState) (string, error) {
		return t.AsisCandidate().ID, nil
	}

	order := pipeline.NewStageOrder().
		Append("set_choices", r.setChoices(chooseFn)).
		Append("apply", r.apply()).
		Append("manipulate_files", r.manipulateFiles()).
		Append("mark_imported", markProgress(state.ImportCompleted))

	var producer pipeline.Producer
	if len(sess.Tasks) > 0 {
		producer = r.resumeTasks(sess)
	} else {
		producer = r.readTasks(sess)
		order.InsertBefore("set_choices", "group_albums", r.groupAlbums(sess))
	}
	err = r.execute(ctx, sess, producer, order)
	return sess, err
}

func (r *Runner) newBootlegSession(ctx context.Context, path string) (*state.SessionState, error) {
	folder, err := r.scanFolder(path)
	if err != nil {
		return nil, err
	}
	sess := state.NewSession(folder)
	rev, err := r.Store.NextRevision(ctx, folder.Hash)
	if err != nil {
		return nil, err
	}
	sess.FolderRevision = rev
	if err := r.Store.UpsertFolder(ctx, folder); err != nil {
		return nil, err
	}
	return sess, nil
}

// prepareImport validates the session state and attaches duplicate
// actions to the tasks. Validation failures surface before any stage
// runs.
func (r *Runner) prepareImport(sess *state.SessionState, opts ImportOptions) error {
	for _, t := range sess.Tasks {
		if t.Progress() != state.PreviewCompleted {
			return apperr.InvalidUsage("Cannot redo imports. Try undo and/or retag!")
		}
	}
	for key, action := range opts.DuplicateActions {
		switch action {
		case config.DuplicateSkip, config.DuplicateKeep, config.DuplicateRemove, config.DuplicateMerge, config.DuplicateAsk:
		default:
			return apperr.InvalidUsage("unknown duplicate action %q for %s", action, key)
		}
	}
	for _, t := range sess.Tasks {
		if action, ok := lookupFor(opts.DuplicateActions, t); ok {
			t.DuplicateAction = action
		}
	}
	for key := range opts.CandidateIDs {
		if key == Wildcard {
			continue
		}
		if findTask(sess, key) == nil {
			return apperr.InvalidUsage("candidate choice for unknown task %s", key)
		}
	}
	for key := range opts.DuplicateActions {
		if key == Wildcard {
			continue
		}
		if findTask(sess, key) == nil {
			return apperr.InvalidUsage("duplicate action for unknown task %s", key)
		}
	}
	return nil
}

func (r *Runner) runImport(ctx context.Context, sess *state.SessionState, chooseFn chooser) error {
	order := pipeline.NewStageOrder().
		Append("set_choices", r.setChoices(chooseFn)).
		Append("apply", r.apply()).
		Append("manipulate_files", r.manipulateFiles()).
		Append("mark_imported", markProgress(state.ImportCompleted))
	return r.execute(ctx, sess, r.resumeTasks(sess), order)
}

// resolveChoice turns the caller's CandidateChoice into a concrete
// candidate id. A missing choice means Best.
func resolveChoice(t *state.TaskState, choice state.CandidateChoice, ok bool) (string, error) {
	if !ok || choice == "" || choice == state.ChoiceBest {
		best := t.BestCandidate()
		if best == nil {
			return "", apperr.NoCandidatesFound("task %s has no candidates; run add-candidates first", t.ID)
		}
		return best.ID, nil
	}
	if choice == state.ChoiceAsis {
		return t.AsisCandidate().ID, nil
	}
	return string(choice), nil
}

// lookupFor resolves a per-task map with wildcard fallback.
func lookupFor[V any](m map[string]V, t *state.TaskState) (V, bool) {
	if v, ok := m[t.ID.String()]; ok {
		return v, true
	}
	v, ok := m[Wildcard]
	return v, ok
}

func findTask(sess *state.SessionState, id string) *state.TaskState {
	for _, t := range sess.Tasks {
		if t.ID.String() == id {
			return t
		}
	}
	return nil
}
