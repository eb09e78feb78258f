package session

import (
	"context"
	"log"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/library"
	"github.com/tunevault/tunevault/internal/pipeline"
	"github.com/tunevault/tunevault/internal/session/state"
)

// RunUndo reverts a completed import: library entries are removed and
// the files are either moved back to their original paths or deleted.
func (r *Runner) RunUndo(ctx context.Context, hash string, deleteFiles bool) (*state.SessionState, error) {
	sess, err := r.loadSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	if sess.Progress() != state.ImportCompleted {
		return nil, apperr.InvalidUsage("Cannot undo if never imported (session is at %s)", sess.Progress())
	}
	for _, t := range sess.Tasks {
		if len(t.ImportedAlbumIDs) > 0 && len(t.OldPaths) == 0 {
			return nil, apperr.Integrity("task %s imported albums but recorded no original paths", t.ID)
		}
	}

	// Items are captured before removal so move_files_back still knows
	// the library paths after the rows are gone.
	removedItems := make(map[string][]library.Item)

	removeEntries := pipeline.StageFunc(func(ctx context.Context, t *state.TaskState) ([]*state.TaskState, error) {
		t.SetProgress(state.Deleting)
		for _, albumID := range t.ImportedAlbumIDs {
			items, err := r.Lib.AlbumItems(ctx, albumID)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				return nil, apperr.Integrity("album %d is recorded as imported but has no library entries", albumID)
			}
			removedItems[t.ID.String()] = append(removedItems[t.ID.String()], items...)
			if err := r.Lib.Remove(ctx, albumID, deleteFiles); err != nil {
				return nil, err
			}
		}
		return []*state.TaskState{t}, nil
	})

	moveBack := pipeline.StageFunc(func(ctx context.Context, t *state.TaskState) ([]*state.TaskState, error) {
		if !deleteFiles {
			byPath := make(map[string]bool)
			for _, it := range removedItems[t.ID.String()] {
				byPath[it.Path] = true
			}
			for i, item := range t.Handle.Items {
				if i >= len(t.OldPaths) || !byPath[item.Path] {
					continue
				}
				if err := library.MoveFile(item.Path, t.OldPaths[i]); err != nil {
					return nil, apperr.Integrity("could not move %s back to %s: %v", item.Path, t.OldPaths[i], err)
				}
				t.Handle.Items[i].Path = t.OldPaths[i]
			}
		}
		t.ImportedAlbumIDs = nil
		return []*state.TaskState{t}, nil
	})

	order := pipeline.NewStageOrder().
		Append("remove_library_entries", removeEntries).
		Append("move_files_back", moveBack).
		Append("mark_deleted", markProgress(state.DeletionCompleted))

	err = r.execute(ctx, sess, r.resumeTasks(sess), order)
	if err == nil {
		log.Printf("Session: undid import of %s (delete_files=%v)", sess.FolderPath, deleteFiles)
	}
	return sess, err
}
