// Package session assembles and executes the import-session variants:
// preview, add-candidates, import-chosen, import-auto, import-bootleg
// and undo. Each variant builds a StageOrder over a shared set of
// stage primitives and hands it to the pipeline executor.
package session

import (
	"context"
	"log"

	"github.com/tunevault/tunevault/internal/config"
	"github.com/tunevault/tunevault/internal/fingerprint"
	"github.com/tunevault/tunevault/internal/library"
	"github.com/tunevault/tunevault/internal/matching"
	"github.com/tunevault/tunevault/internal/pipeline"
	"github.com/tunevault/tunevault/internal/session/state"
	"github.com/tunevault/tunevault/internal/store"
)

// Runner owns the collaborators every session variant needs.
type Runner struct {
	Store  *store.Store
	Lib    library.Library
	FP     *fingerprint.Fingerprinter
	Source matching.Source
	Cfg    *config.Config
}

func NewRunner(st *store.Store, lib library.Library, fp *fingerprint.Fingerprinter,
	source matching.Source, cfg *config.Config) *Runner {
	return &Runner{Store: st, Lib: lib, FP: fp, Source: source, Cfg: cfg}
}

// execute drives sess through the stage order, bracketing the run with
// the import_begin/cli_exit plugin events and persisting the session
// whatever happens. An error is recorded on the session before it is
// returned, so the durable row always reflects the failure.
func (r *Runner) execute(ctx context.Context, sess *state.SessionState,
	producer pipeline.Producer, order *pipeline.StageOrder) (err error) {

	r.Lib.Plugins().Send(library.EventImportBegin, sess)
	defer func() {
		if err != nil {
			sess.Fail(err)
		} else {
			sess.ClearExc()
		}
		// Persist in the deferred block only; a cancelled pipeline
		// leaves progress at the highest value each task reached.
		if saveErr := r.Store.SaveSession(context.WithoutCancel(ctx), sess); saveErr != nil {
			log.Printf("Session: persisting %s failed: %v", sess.ID, saveErr)
			if err == nil {
				err = saveErr
			}
		}
		r.Lib.Plugins().Send(library.EventCliExit, sess)
	}()

	return pipeline.Run(ctx, producer, order, func(ctx context.Context, t *state.TaskState) error {
		return nil
	})
}

// loadSession fetches the stored session for hash and flags content
// drift: a resumed traversal operates on the folder as it was when the
// session was built.
func (r *Runner) loadSession(ctx context.Context, hash string) (*state.SessionState, error) {
	sess, err := r.Store.SessionByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if fresh, err := r.FP.Hash(sess.FolderPath); err == nil {
		r.Store.VerifyHash(sess, fresh)
	}
	return sess, nil
}

// scanFolder fingerprints and classifies path into a Folder.
func (r *Runner) scanFolder(path string) (state.Folder, error) {
	hash, err := r.FP.Hash(path)
	if err != nil {
		return state.Folder{}, err
	}
	isAlbum, err := r.FP.IsAlbumFolder(path)
	if err != nil {
		return state.Folder{}, err
	}
	return state.Folder{Path: path, Hash: hash, IsAlbum: isAlbum}, nil
}
