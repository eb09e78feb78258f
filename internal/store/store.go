// Package store persists import sessions keyed by (folder_hash,
// folder_revision). Sessions are written whole, inside one
// transaction, by the worker that owns them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/config"
	"github.com/tunevault/tunevault/internal/library"
	"github.com/tunevault/tunevault/internal/session/state"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// matchBlob is the persisted form of a candidate's opaque match payload.
type matchBlob struct {
	Type      string            `json:"type"`
	Info      library.AlbumInfo `json:"info"`
	Tracks    []library.TrackInfo `json:"tracks"`
	Distance  float64           `json:"distance"`
	Penalties []string          `json:"penalties"`
	Mapping   map[int]int       `json:"mapping"`
	IsAsis    bool              `json:"is_asis"`
}

// UpsertFolder records the folder by hash. The newest path wins when
// the same content shows up somewhere else.
func (s *Store) UpsertFolder(ctx context.Context, f state.Folder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folder (hash, full_path, is_album) VALUES ($1, $2, $3)
		 ON CONFLICT (hash) DO UPDATE SET full_path = EXCLUDED.full_path, is_album = EXCLUDED.is_album`,
		f.Hash, f.Path, f.IsAlbum)
	if err != nil {
		return fmt.Errorf("upsert folder: %w", err)
	}
	return nil
}

// FolderByHash resolves a stored folder record.
func (s *Store) FolderByHash(ctx context.Context, hash string) (*state.Folder, error) {
	var f state.Folder
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, full_path, is_album FROM folder WHERE hash = $1`, hash).
		Scan(&f.Hash, &f.Path, &f.IsAlbum)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no folder with hash %s", hash)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// NextRevision returns max(folder_revision)+1 for the hash, 1 when no
// session exists yet.
func (s *Store) NextRevision(ctx context.Context, hash string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(folder_revision) FROM session WHERE folder_hash = $1`, hash).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next revision: %w", err)
	}
	return int(max.Int64) + 1, nil
}

// SaveSession writes the whole session graph in one transaction. Tasks
// and candidates are replaced; the session row is upserted by id.
func (s *Store) SaveSession(ctx context.Context, sess *state.SessionState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO folder (hash, full_path, is_album) VALUES ($1, $2, TRUE)
		 ON CONFLICT (hash) DO UPDATE SET full_path = EXCLUDED.full_path`,
		sess.FolderHash, sess.FolderPath); err != nil {
		return fmt.Errorf("save folder: %w", err)
	}

	var excBlob interface{}
	if sess.Exc != nil {
		excBlob, _ = json.Marshal(sess.Exc)
	}
	sess.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session (id, folder_hash, folder_revision, progress, exc_blob, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET progress = EXCLUDED.progress, exc_blob = EXCLUDED.exc_blob,
		 updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.FolderHash, sess.FolderRevision, sess.Progress().String(),
		excBlob, sess.CreatedAt, sess.UpdatedAt); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task WHERE session_id = $1`, sess.ID); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}

	for seq, t := range sess.Tasks {
		items, _ := json.Marshal(t.Handle.Items)
		paths, _ := json.Marshal(t.Handle.Paths)
		var oldPaths, importedAlbums interface{}
		if t.OldPaths != nil {
			oldPaths, _ = json.Marshal(t.OldPaths)
		}
		if t.ImportedAlbumIDs != nil {
			importedAlbums, _ = json.Marshal(t.ImportedAlbumIDs)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task (id, session_id, seq, progress, top_path, items_blob, paths_blob,
			 old_paths_blob, imported_albums, choice_flag, dup_action, cur_artist, cur_album)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			t.ID, sess.ID, seq, t.Progress().String(), t.Handle.TopPath, items, paths,
			oldPaths, importedAlbums, nullStr(t.ChosenCandidateID), nullStr(string(t.DuplicateAction)),
			t.Handle.Current.Artist, t.Handle.Current.Album); err != nil {
			return fmt.Errorf("save task: %w", err)
		}

		for cseq, c := range t.Candidates {
			match, _ := json.Marshal(matchBlob{
				Type: c.Type, Info: c.Info, Tracks: c.Info.Tracks,
				Distance: c.Distance, Penalties: c.Penalties,
				Mapping: c.Mapping, IsAsis: c.IsAsis,
			})
			dupIDs, _ := json.Marshal(c.DuplicateIDs)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO candidate (id, task_id, seq, match_blob, duplicate_ids)
				 VALUES ($1, $2, $3, $4, $5)`,
				c.ID, t.ID, cseq, match, dupIDs); err != nil {
				return fmt.Errorf("save candidate: %w", err)
			}
		}
	}

	return tx.Commit()
}

// SessionByHash loads the highest-revision session for a hash.
func (s *Store) SessionByHash(ctx context.Context, hash string) (*state.SessionState, error) {
	return s.loadSession(ctx,
		`SELECT id, folder_hash, folder_revision, progress, exc_blob, created_at, updated_at
		 FROM session WHERE folder_hash = $1 ORDER BY folder_revision DESC LIMIT 1`, hash)
}

// SessionByPath loads the most recently touched session stored under a
// path, newest revision first among ties.
func (s *Store) SessionByPath(ctx context.Context, path string) (*state.SessionState, error) {
	return s.loadSession(ctx,
		`SELECT s.id, s.folder_hash, s.folder_revision, s.progress, s.exc_blob, s.created_at, s.updated_at
		 FROM session s JOIN folder f ON f.hash = s.folder_hash
		 WHERE f.full_path = $1 ORDER BY s.updated_at DESC, s.folder_revision DESC LIMIT 1`, path)
}

// SessionByID loads one session by its id.
func (s *Store) SessionByID(ctx context.Context, id uuid.UUID) (*state.SessionState, error) {
	return s.loadSession(ctx,
		`SELECT id, folder_hash, folder_revision, progress, exc_blob, created_at, updated_at
		 FROM session WHERE id = $1`, id)
}

func (s *Store) loadSession(ctx context.Context, query string, arg interface{}) (*state.SessionState, error) {
	sess := &state.SessionState{}
	var excBlob []byte
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&sess.ID, &sess.FolderHash, &sess.FolderRevision, new(string), &excBlob,
			&sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no session found")
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if excBlob != nil {
		sess.Exc = &apperr.Serialized{}
		if err := json.Unmarshal(excBlob, sess.Exc); err != nil {
			sess.Exc = &apperr.Serialized{Type: "UnknownException", Message: string(excBlob)}
		}
	}

	var folderPath string
	if err := s.db.QueryRowContext(ctx,
		`SELECT full_path FROM folder WHERE hash = $1`, sess.FolderHash).Scan(&folderPath); err == nil {
		sess.FolderPath = folderPath
	}

	if err := s.loadTasks(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) loadTasks(ctx context.Context, sess *state.SessionState) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, progress, top_path, items_blob, paths_blob, old_paths_blob,
		 imported_albums, choice_flag, dup_action, cur_artist, cur_album
		 FROM task WHERE session_id = $1 ORDER BY seq`, sess.ID)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                   uuid.UUID
			progressName         string
			topPath              sql.NullString
			itemsBlob, pathsBlob []byte
			oldPathsBlob         []byte
			importedBlob         []byte
			choice, dupAction    sql.NullString
			curArtist, curAlbum  string
		)
		if err := rows.Scan(&id, &progressName, &topPath, &itemsBlob, &pathsBlob,
			&oldPathsBlob, &importedBlob, &choice, &dupAction, &curArtist, &curAlbum); err != nil {
			return err
		}

		handle := &library.ImportTask{
			TopPath: topPath.String,
			Current: library.Metadata{Artist: curArtist, Album: curAlbum},
		}
		json.Unmarshal(itemsBlob, &handle.Items)
		json.Unmarshal(pathsBlob, &handle.Paths)

		t := sess.UpsertTask(handle)
		t.ID = id
		t.ChosenCandidateID = choice.String
		t.DuplicateAction = config.DuplicateAction(dupAction.String)
		if oldPathsBlob != nil {
			json.Unmarshal(oldPathsBlob, &t.OldPaths)
		}
		if importedBlob != nil {
			json.Unmarshal(importedBlob, &t.ImportedAlbumIDs)
		}
		p, err := state.ParseProgress(progressName)
		if err != nil {
			return apperr.Integrity("task %s: %v", id, err)
		}
		t.RestoreProgress(p)

		if err := s.loadCandidates(ctx, t); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) loadCandidates(ctx context.Context, t *state.TaskState) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_blob, duplicate_ids FROM candidate WHERE task_id = $1 ORDER BY seq`, t.ID)
	if err != nil {
		return fmt.Errorf("load candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         string
			match      []byte
			dupIDsBlob []byte
		)
		if err := rows.Scan(&id, &match, &dupIDsBlob); err != nil {
			return err
		}
		var blob matchBlob
		if err := json.Unmarshal(match, &blob); err != nil {
			return apperr.Integrity("candidate %s: bad match blob: %v", id, err)
		}
		info := blob.Info
		info.Tracks = blob.Tracks
		c := &state.CandidateState{
			ID:        id,
			Task:      t,
			Type:      blob.Type,
			Info:      info,
			Distance:  blob.Distance,
			Penalties: blob.Penalties,
			Mapping:   blob.Mapping,
			IsAsis:    blob.IsAsis || strings.HasPrefix(id, state.AsisPrefix),
		}
		if dupIDsBlob != nil {
			json.Unmarshal(dupIDsBlob, &c.DuplicateIDs)
		}
		t.Candidates = append(t.Candidates, c)
	}
	return rows.Err()
}

// VerifyHash compares the stored session hash with a fresh scan. Drift
// is logged, not fatal: the job runs on the content that existed at
// enqueue time.
func (s *Store) VerifyHash(sess *state.SessionState, freshHash string) {
	if freshHash != "" && freshHash != sess.FolderHash {
		log.Printf("Store: folder %s changed since session %s was created (stored %s, now %s); proceeding with stored hash",
			sess.FolderPath, sess.ID, sess.FolderHash, freshHash)
	}
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
