package session

import (
	"context"
	"log"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/pipeline"
	"github.com/tunevault/tunevault/internal/session/state"
)

// RunPreview scans the folder, looks up candidates and identifies
// duplicates, leaving the session at PreviewCompleted. Every preview
// writes a new session revision for the folder hash.
func (r *Runner) RunPreview(ctx context.Context, hash, path string) (*state.SessionState, error) {
	folder, err := r.scanFolder(path)
	if err != nil {
		return nil, err
	}
	if !folder.IsAlbum {
		return nil, apperr.InvalidUsage("%s is not an album folder", path)
	}
	if hash != "" && hash != folder.Hash {
		log.Printf("Session: folder %s changed since enqueue (%s -> %s), previewing current content", path, hash, folder.Hash)
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

	order := pipeline.NewStageOrder().
		Append("group_albums", r.groupAlbums(sess)).
		Append("lookup_candidates", r.lookupCandidates()).
		Append("identify_duplicates", r.identifyDuplicates()).
		Append("mark_previewed", markProgress(state.PreviewCompleted))

	err = r.execute(ctx, sess, r.readTasks(sess), order)
	return sess, err
}

// SearchSpec narrows an AddCandidates lookup.
type SearchSpec struct {
	IDs    []string
	Artist string
	Album  string
}

// RunAddCandidates merges targeted lookups into an existing completed
// preview. The session is updated in place; no new revision is
// written.
func (r *Runner) RunAddCandidates(ctx context.Context, hash string, search SearchSpec) (*state.SessionState, error) {
	sess, err := r.loadSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	if sess.Progress() < state.PreviewCompleted {
		return nil, apperr.InvalidUsage("session %s has no completed preview to add candidates to", sess.ID)
	}
	if len(search.IDs) == 0 && search.Artist == "" && search.Album == "" {
		return nil, apperr.InvalidUsage("add candidates needs search ids or an artist/album query")
	}

	// Stages that mark sub-preview progress would regress a completed
	// session, so this variant runs a single merge stage.
	order := pipeline.NewStageOrder().
		Append("add_candidates", pipeline.StageFunc(func(ctx context.Context, t *state.TaskState) ([]*state.TaskState, error) {
			t.SearchIDs = search.IDs
			t.SearchArtist = search.Artist
			t.SearchAlbum = search.Album

			for _, id := range search.IDs {
				info, err := r.Source.Lookup(ctx, id)
				if err != nil {
					return nil, err
				}
				c := addCandidate(t, *info)
				if err := c.IdentifyDuplicates(ctx, r.Lib, r.Cfg.DuplicateKeys); err != nil {
					return nil, err
				}
			}
			if search.Artist != "" || search.Album != "" {
				infos, err := r.Source.Search(ctx, search.Artist, search.Album)
				if err != nil {
					return nil, err
				}
				for _, info := range infos {
					c := addCandidate(t, info)
					if err := c.IdentifyDuplicates(ctx, r.Lib, r.Cfg.DuplicateKeys); err != nil {
						return nil, err
					}
				}
			}
			return []*state.TaskState{t}, nil
		}))

	err = r.execute(ctx, sess, r.resumeTasks(sess), order)
	return sess, err
}
