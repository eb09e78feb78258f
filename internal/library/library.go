package library

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/lib/pq"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/config"
)

// Library is the narrow facade the import core uses to talk to the
// music library. The real store is SQL-backed; tests substitute an
// in-memory fake.
type Library interface {
	// QueryDuplicates returns library albums whose values for the
	// given keys match the candidate metadata.
	QueryDuplicates(ctx context.Context, meta AlbumInfo, keys []string) ([]Album, error)
	// AlbumItems lists the file rows of one album.
	AlbumItems(ctx context.Context, albumID int64) ([]Item, error)
	// Albums lists all albums.
	Albums(ctx context.Context) ([]Album, error)
	// CommitImport moves the task's files into the library tree and
	// records the album and items, applying the duplicate action.
	CommitImport(ctx context.Context, req ImportRequest) ([]Item, error)
	// Remove deletes an album and its items, optionally with files.
	Remove(ctx context.Context, albumID int64, deleteFiles bool) error
	// MoveBack returns an item's file to dest during undo.
	MoveBack(ctx context.Context, item Item, dest string) error
	// Plugins is the event hub notified on import traversal.
	Plugins() *PluginHub
}

// ImportRequest carries everything CommitImport needs.
type ImportRequest struct {
	Task            *ImportTask
	Info            AlbumInfo
	Mapping         map[int]int
	Asis            bool
	DuplicateAction config.DuplicateAction
	DuplicateIDs    []int64
}

// SQLLibrary is the Postgres-backed library.
type SQLLibrary struct {
	db       *sql.DB
	musicDir string
	plugins  *PluginHub
}

// Open attaches to the library database rooted at musicDir.
func Open(db *sql.DB, musicDir string) *SQLLibrary {
	return &SQLLibrary{db: db, musicDir: musicDir, plugins: NewPluginHub()}
}

func (l *SQLLibrary) Plugins() *PluginHub { return l.plugins }

var duplicateKeyColumns = map[string]string{
	"albumartist": "album_artist",
	"artist":      "album_artist",
	"album":       "album",
	"year":        "year",
}

func (l *SQLLibrary) QueryDuplicates(ctx context.Context, meta AlbumInfo, keys []string) ([]Album, error) {
	query := `SELECT id, album_artist, album, year, dir, added_at FROM lib_album WHERE 1=1`
	var args []interface{}
	for _, key := range keys {
		col, ok := duplicateKeyColumns[strings.ToLower(key)]
		if !ok {
			return nil, apperr.Configuration("unknown duplicate key %q", key)
		}
		switch col {
		case "year":
			args = append(args, meta.Year)
		case "album":
			args = append(args, meta.Album)
		default:
			args = append(args, meta.Artist)
		}
		query += fmt.Sprintf(" AND LOWER(%s) = LOWER($%d)", col, len(args))
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query duplicates: %w", err)
	}
	defer rows.Close()
	return scanAlbums(rows)
}

func (l *SQLLibrary) Albums(ctx context.Context) ([]Album, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, album_artist, album, year, dir, added_at FROM lib_album ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlbums(rows)
}

func scanAlbums(rows *sql.Rows) ([]Album, error) {
	var albums []Album
	for rows.Next() {
		var a Album
		if err := rows.Scan(&a.ID, &a.AlbumArtist, &a.Album, &a.Year, &a.Dir, &a.AddedAt); err != nil {
			return nil, err
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

func (l *SQLLibrary) AlbumItems(ctx context.Context, albumID int64) ([]Item, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, album_id, path, title, artist, track, size FROM lib_item WHERE album_id = $1 ORDER BY track, path`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.AlbumID, &it.Path, &it.Title, &it.Artist, &it.Track, &it.Size); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (l *SQLLibrary) CommitImport(ctx context.Context, req ImportRequest) ([]Item, error) {
	switch req.DuplicateAction {
	case config.DuplicateAsk:
		if len(req.DuplicateIDs) > 0 {
			return nil, apperr.Duplicate("duplicates found for %q and duplicate_action is ask", req.Info.Album)
		}
	case config.DuplicateRemove:
		for _, id := range req.DuplicateIDs {
			if err := l.Remove(ctx, id, true); err != nil {
				return nil, fmt.Errorf("remove duplicate album %d: %w", id, err)
			}
		}
	case config.DuplicateSkip, config.DuplicateKeep, config.DuplicateMerge, "":
	default:
		return nil, apperr.InvalidUsage("unknown duplicate action %q", req.DuplicateAction)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback()

	albumID, destDir, err := l.targetAlbum(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create album dir: %w", err)
	}

	items := make([]Item, 0, len(req.Task.Items))
	for i, info := range req.Task.Items {
		title, artist, track := info.Title, info.Artist, info.Track
		if !req.Asis {
			if j, ok := req.Mapping[i]; ok && j < len(req.Info.Tracks) {
				t := req.Info.Tracks[j]
				title, artist, track = t.Title, t.Artist, t.Index
				if artist == "" {
					artist = req.Info.Artist
				}
			}
		}
		dest := filepath.Join(destDir, filepath.Base(info.Path))
		if err := MoveFile(info.Path, dest); err != nil {
			return nil, fmt.Errorf("move %s: %w", info.Path, err)
		}
		item := Item{AlbumID: albumID, Path: dest, Title: title, Artist: artist, Track: track, Size: info.Size}
		err := tx.QueryRowContext(ctx,
			`INSERT INTO lib_item (album_id, path, title, artist, track, size)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			item.AlbumID, item.Path, item.Title, item.Artist, item.Track, item.Size).Scan(&item.ID)
		if err != nil {
			return nil, fmt.Errorf("insert item: %w", err)
		}
		items = append(items, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import tx: %w", err)
	}
	log.Printf("Library: imported %q by %q (%d items) into %s", req.Info.Album, req.Info.Artist, len(items), destDir)
	return items, nil
}

// targetAlbum resolves the album row to attach items to: the existing
// duplicate on merge, otherwise a fresh row.
func (l *SQLLibrary) targetAlbum(ctx context.Context, tx *sql.Tx, req ImportRequest) (int64, string, error) {
	if req.DuplicateAction == config.DuplicateMerge && len(req.DuplicateIDs) > 0 {
		var dir string
		id := req.DuplicateIDs[0]
		if err := tx.QueryRowContext(ctx, `SELECT dir FROM lib_album WHERE id = $1`, id).Scan(&dir); err != nil {
			if err == sql.ErrNoRows {
				return 0, "", apperr.Integrity("merge target album %d missing from library", id)
			}
			return 0, "", err
		}
		return id, dir, nil
	}

	artist, album := req.Info.Artist, req.Info.Album
	if req.Asis {
		artist, album = req.Task.Current.Artist, req.Task.Current.Album
	}
	if artist == "" {
		artist = "Unknown Artist"
	}
	if album == "" {
		album = "Unknown Album"
	}
	destDir := filepath.Join(l.musicDir, sanitize(artist), sanitize(album))
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO lib_album (album_artist, album, year, dir) VALUES ($1, $2, $3, $4) RETURNING id`,
		artist, album, req.Info.Year, destDir).Scan(&id)
	if err != nil {
		return 0, "", fmt.Errorf("insert album: %w", err)
	}
	return id, destDir, nil
}

func (l *SQLLibrary) Remove(ctx context.Context, albumID int64, deleteFiles bool) error {
	items, err := l.AlbumItems(ctx, albumID)
	if err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	itemIDs := make([]int64, len(items))
	for i, it := range items {
		itemIDs[i] = it.ID
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM lib_item WHERE id = ANY($1)`, pq.Array(itemIDs)); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	var dir string
	if err := tx.QueryRowContext(ctx, `DELETE FROM lib_album WHERE id = $1 RETURNING dir`, albumID).Scan(&dir); err != nil {
		if err == sql.ErrNoRows {
			return apperr.NotFound("album %d not in library", albumID)
		}
		return fmt.Errorf("delete album: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for _, it := range items {
		l.plugins.Send(EventItemRemoved, it)
		if deleteFiles {
			if err := os.Remove(it.Path); err != nil && !os.IsNotExist(err) {
				log.Printf("Library: could not delete %s: %v", it.Path, err)
			}
		}
	}
	if deleteFiles {
		// Best effort; the dir may hold art or other albums' leftovers.
		os.Remove(dir)
	}
	l.plugins.Send(EventAlbumRemoved, Album{ID: albumID, Dir: dir})
	return nil
}

func (l *SQLLibrary) MoveBack(ctx context.Context, item Item, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := MoveFile(item.Path, dest); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx, `UPDATE lib_item SET path = $1 WHERE id = $2`, dest, item.ID)
	return err
}

// MoveFile renames, falling back to copy+delete across filesystems.
func MoveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

var pathReplacer = strings.NewReplacer("/", "_", "\x00", "", ":", "-")

func sanitize(part string) string {
	return strings.TrimSpace(pathReplacer.Replace(part))
}
