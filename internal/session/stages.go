package session

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/fingerprint"
	"github.com/tunevault/tunevault/internal/library"
	"github.com/tunevault/tunevault/internal/matching"
	"github.com/tunevault/tunevault/internal/pipeline"
	"github.com/tunevault/tunevault/internal/session/state"
)

// setProgress wraps a stage so the task's progress is marked before
// the wrapped stage runs.
func setProgress(p state.Progress, inner pipeline.Stage) pipeline.Stage {
	return &progressStage{p: p, inner: inner}
}

// markProgress is a pass-through stage that only marks progress.
func markProgress(p state.Progress) pipeline.Stage {
	return setProgress(p, nil)
}

type progressStage struct {
	p     state.Progress
	inner pipeline.Stage
}

func (s *progressStage) Prime(ctx context.Context) error {
	if s.inner != nil {
		return s.inner.Prime(ctx)
	}
	return nil
}

func (s *progressStage) Send(ctx context.Context, t *state.TaskState) ([]*state.TaskState, error) {
	t.SetProgress(s.p)
	if s.inner == nil {
		return []*state.TaskState{t}, nil
	}
	return s.inner.Send(ctx, t)
}

// readTasks is the producer: it scans the folder into one root task
// covering all items, marks it ReadingFiles, and announces it to
// plugins.
func (r *Runner) readTasks(sess *state.SessionState) pipeline.Producer {
	return func(ctx context.Context, out chan<- *state.TaskState) error {
		paths, err := r.FP.AudioFiles(sess.FolderPath)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return apperr.NotFound("no audio files under %s", sess.FolderPath)
		}

		guess := fingerprint.GuessMetadata(sess.FolderPath, r.Cfg)
		handle := &library.ImportTask{
			TopPath: sess.FolderPath,
			Paths:   paths,
			Current: library.Metadata{Artist: guess.Artist, Album: guess.Album},
		}
		for i, p := range paths {
			info := library.ItemInfo{Path: p, Title: titleFromPath(p), Artist: guess.Artist, Album: guess.Album, Track: i + 1}
			if fi, err := os.Stat(p); err == nil {
				info.Size = fi.Size()
			}
			handle.Items = append(handle.Items, info)
		}

		task := sess.UpsertTask(handle)
		task.SetProgress(state.ReadingFiles)
		task.AsisCandidate()
		r.Lib.Plugins().Send(library.EventImportTaskCreated, task)

		select {
		case out <- task:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
}

// resumeTasks is the producer for traversals over an already-built
// session. Each task is announced to plugins before it reaches the
// first stage, mirroring what group_albums does for fresh tasks.
func (r *Runner) resumeTasks(sess *state.SessionState) pipeline.Producer {
	return func(ctx context.Context, out chan<- *state.TaskState) error {
		for _, t := range sess.Tasks {
			r.Lib.Plugins().Send(library.EventImportTaskStart, t)
			select {
			case out <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

// titleFromPath strips directory and extension; track titles on disk
// usually live in the filename.
func titleFromPath(p string) string {
	base := filepath.Base(p)
	return base[:len(base)-len(filepath.Ext(base))]
}

// groupAlbums splits the root task when its items span multiple
// sibling album folders. Disc subfolders stay grouped under one task.
func (r *Runner) groupAlbums(sess *state.SessionState) pipeline.Stage {
	return pipeline.StageFunc(func(ctx context.Context, t *state.TaskState) ([]*state.TaskState, error) {
		t.SetProgress(state.GroupingAlbums)
		r.Lib.Plugins().Send(library.EventImportTaskStart, t)

		groups := make(map[string][]library.ItemInfo)
		var order []string
		for _, item := range t.Handle.Items {
			root := r.FP.AlbumRoot(item.Path, filepath.Dir(t.Handle.TopPath))
			if root == "" {
				root = t.Handle.TopPath
			}
			if _, seen := groups[root]; !seen {
				order = append(order, root)
			}
			groups[root] = append(groups[root], item)
		}
		if len(order) <= 1 {
			return []*state.TaskState{t}, nil
		}

		// The root task becomes the first group; the rest split off.
		out := make([]*state.TaskState, 0, len(order))
		for i, root := range order {
			items := groups[root]
			paths := make([]string, len(items))
			for j, it := range items {
				paths[j] = it.Path
			}
			if i == 0 {
				t.Handle.Paths = paths
				t.Handle.Items = items
				out = append(out, t)
				continue
			}
			guess := fingerprint.GuessMetadata(root, r.Cfg)
			handle := &library.ImportTask{
				TopPath: root,
				Paths:   paths,
				Items:   items,
				Current: library.Metadata{Artist: guess.Artist, Album: guess.Album},
			}
			split := t.Session.UpsertTask(handle)
			split.SetProgress(state.GroupingAlbums)
			split.AsisCandidate()
			r.Lib.Plugins().Send(library.EventImportTaskCreated, split)
			out = append(out, split)
		}
		return out, nil
	})
}

// lookupCandidates fetches online matches for a task and scores them.
// An empty lookup is a user-recoverable failure: AddCandidates with
// explicit search parameters is the way out.
func (r *Runner) lookupCandidates() pipeline.Stage {
	return pipeline.StageFunc(func(ctx context.Context, t *state.TaskState) ([]*state.TaskState, error) {
		t.SetProgress(state.LookingUpCandidates)

		cur := t.Handle.Current
		infos, err := r.Source.Search(ctx, cur.Artist, cur.Album)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			addCandidate(t, info)
		}
		if t.BestCandidate() == nil {
			return nil, apperr.NoCandidatesFound("no candidates for %q / %q", cur.Artist, cur.Album)
		}
		return []*state.TaskState{t}, nil
	})
}

// addCandidate scores info against the task and merges it into the
// candidate list, deduplicated by match id.
func addCandidate(t *state.TaskState, info library.AlbumInfo) *state.CandidateState {
	dist, penalties := matching.Distance(t.Handle.Items, t.Handle.Current, info)
	return t.AddCandidate(&state.CandidateState{
		ID:        "mb-" + info.AlbumID,
		Type:      "album",
		Info:      info,
		Distance:  dist,
		Penalties: penalties,
		Mapping:   matching.BuildMapping(t.Handle.Items, info.Tracks),
	})
}

// identifyDuplicates runs the duplicate query for every real
// candidate. The asis candidate skips detection; it never contributes
// duplicate ids.
func (r *Runner) identifyDuplicates() pipeline.Stage {
	return pipeline.StageFunc(func(ctx context.Context, t *state.TaskState) ([]*state.TaskState, error) {
		t.SetProgress(state.IdentifyingDuplicates)
		for _, c := range t.Candidates {
			if c.IsAsis {
				continue
			}
			if err := c.IdentifyDuplicates(ctx, r.Lib, r.Cfg.DuplicateKeys); err != nil {
				return nil, err
			}
		}
		return []*state.TaskState{t}, nil
	})
}

// chooser binds one candidate per task.
type chooser func(t *state.TaskState) (string, error)

// setChoices resolves the choice via the variant's chooser, offering
// plugins a final say beforehand.
func (r *Runner) setChoices(choose chooser) pipeline.Stage {
	return pipeline.StageFunc(func(ctx context.Context, t *state.TaskState) ([]*state.TaskState, error) {
		t.SetProgress(state.OfferingMatches)

		offers := r.Lib.Plugins().Send(library.EventImportTaskBeforeChoice, t)
		for _, offer := range offers {
			if info, ok := offer.(library.AlbumInfo); ok {
				addCandidate(t, info)
			}
		}

		id, err := choose(t)
		if err != nil {
			return nil, err
		}
		if err := t.Choose(id); err != nil {
			return nil, err
		}
		r.Lib.Plugins().Send(library.EventImportTaskChoice, t)
		return []*state.TaskState{t}, nil
	})
}

// apply commits the chosen candidate to the library: duplicate
// resolution, file moves into the library tree, and the album/item
// rows. Skipped tasks pass through untouched but still terminate.
func (r *Runner) apply() pipeline.Stage {
	return pipeline.StageFunc(func(ctx context.Context, t *state.TaskState) ([]*state.TaskState, error) {
		t.SetProgress(state.EarlyImporting)

		chosen := t.Chosen()
		if chosen == nil {
			return nil, apperr.InvalidUsage("task %s has no chosen candidate", t.ID)
		}

		action := t.DuplicateAction
		if action == "" {
			action = r.Cfg.DuplicateAction
		}
		if action == "ask" && len(chosen.DuplicateIDs) > 0 {
			return nil, apperr.Duplicate("task %s has unresolved duplicates and no duplicate_action", t.ID)
		}
		if action == "skip" && len(chosen.DuplicateIDs) > 0 {
			log.Printf("Session: skipping task %s (duplicate of %v)", t.ID, chosen.DuplicateIDs)
			t.SetProgress(state.ImportCompleted)
			return []*state.TaskState{t}, nil
		}

		t.SetProgress(state.Importing)
		oldPaths := make([]string, len(t.Handle.Items))
		for i, item := range t.Handle.Items {
			oldPaths[i] = item.Path
		}

		items, err := r.Lib.CommitImport(ctx, library.ImportRequest{
			Task:            t.Handle,
			Info:            chosen.Info,
			Mapping:         chosen.Mapping,
			Asis:            chosen.IsAsis,
			DuplicateAction: action,
			DuplicateIDs:    chosen.DuplicateIDs,
		})
		if err != nil {
			return nil, err
		}

		t.OldPaths = oldPaths
		for i := range t.Handle.Items {
			if i < len(items) {
				t.Handle.Items[i].Path = items[i].Path
			}
		}
		if len(items) > 0 {
			t.ImportedAlbumIDs = appendUnique(t.ImportedAlbumIDs, items[0].AlbumID)
		}
		r.Lib.Plugins().Send(library.EventImportTaskApply, t)
		return []*state.TaskState{t}, nil
	})
}

// manipulateFiles sweeps the emptied source folder after the library
// has taken the files.
func (r *Runner) manipulateFiles() pipeline.Stage {
	return pipeline.StageFunc(func(ctx context.Context, t *state.TaskState) ([]*state.TaskState, error) {
		if t.Progress() >= state.ImportCompleted {
			// Skipped task; nothing moved.
			return []*state.TaskState{t}, nil
		}
		t.SetProgress(state.ManipulatingFiles)
		removeEmptyTree(t.Handle.TopPath)
		return []*state.TaskState{t}, nil
	})
}

// removeEmptyTree deletes dir and its subdirectories bottom-up as long
// as they are empty. Leftover art or logs keep the folder in place.
func removeEmptyTree(dir string) {
	var dirs []string
	filepath.Walk(dir, func(p string, fi os.FileInfo, err error) error {
		if err == nil && fi.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i])
	}
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
