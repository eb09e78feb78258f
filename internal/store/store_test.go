//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevault/tunevault/internal/db"
	"github.com/tunevault/tunevault/internal/library"
	"github.com/tunevault/tunevault/internal/session/state"
)

// Run with: go test -tags integration ./internal/store/ against a
// scratch Postgres, TEST_DATABASE_URL pointing at it.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	conn, err := db.Connect(url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	t.Cleanup(func() { conn.Close() })
	return New(conn)
}

func cleanupHash(t *testing.T, s *Store, hash string) {
	t.Helper()
	t.Cleanup(func() {
		ctx := context.Background()
		s.db.ExecContext(ctx, `DELETE FROM session WHERE folder_hash = $1`, hash)
		s.db.ExecContext(ctx, `DELETE FROM folder WHERE hash = $1`, hash)
	})
}

func previewedSession(hash, path string, rev int) *state.SessionState {
	sess := state.NewSession(state.Folder{Hash: hash, Path: path, IsAlbum: true})
	sess.FolderRevision = rev
	task := sess.UpsertTask(&library.ImportTask{
		TopPath: path,
		Paths:   []string{path + "/01.flac", path + "/02.flac"},
		Items: []library.ItemInfo{
			{Path: path + "/01.flac", Title: "One", Track: 1},
			{Path: path + "/02.flac", Title: "Two", Track: 2},
		},
		Current: library.Metadata{Artist: "Artist", Album: "Album"},
	})
	task.AsisCandidate()
	task.AddCandidate(&state.CandidateState{
		ID:   "mb-30fd0c55-0000-0000-0000-000000000000",
		Type: "album",
		Info: library.AlbumInfo{
			AlbumID: "30fd0c55-0000-0000-0000-000000000000",
			Artist:  "Artist",
			Album:   "Album",
			Tracks: []library.TrackInfo{
				{Title: "One", Index: 1},
				{Title: "Two", Index: 2},
			},
		},
		Distance:  0.02,
		Penalties: []string{"tracks"},
		Mapping:   map[int]int{0: 0, 1: 1},
	})
	task.RestoreProgress(state.PreviewCompleted)
	return sess
}

func TestSaveAndReloadSessionGraph(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	hash := uuid.NewString()
	cleanupHash(t, s, hash)

	saved := previewedSession(hash, "/inbox/Artist - Album", 1)
	require.NoError(t, s.SaveSession(ctx, saved))

	loaded, err := s.SessionByHash(ctx, hash)
	require.NoError(t, err)

	assert.Equal(t, saved.ID, loaded.ID)
	assert.Equal(t, saved.FolderRevision, loaded.FolderRevision)
	assert.Equal(t, "/inbox/Artist - Album", loaded.FolderPath)
	assert.Equal(t, state.PreviewCompleted, loaded.Progress())
	require.Len(t, loaded.Tasks, 1)

	lt, st := loaded.Tasks[0], saved.Tasks[0]
	assert.Equal(t, st.ID, lt.ID)
	assert.Equal(t, st.Handle.Paths, lt.Handle.Paths)
	assert.Equal(t, "Artist", lt.Handle.Current.Artist)
	require.Len(t, lt.Candidates, 2)

	mb := lt.Candidate("mb-30fd0c55-0000-0000-0000-000000000000")
	require.NotNil(t, mb)
	assert.False(t, mb.IsAsis)
	assert.InDelta(t, 0.02, mb.Distance, 1e-9)
	assert.Equal(t, []string{"tracks"}, mb.Penalties)
	assert.Equal(t, map[int]int{0: 0, 1: 1}, mb.Mapping)
	require.NotNil(t, lt.AsisCandidate())
	assert.True(t, lt.AsisCandidate().IsAsis)
}

// Two previews of the same folder each match the same release, so both
// revisions carry a candidate with the same match id. Both rows must
// survive side by side.
func TestSuccessivePreviewsKeepBothRevisions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	hash := uuid.NewString()
	cleanupHash(t, s, hash)

	first := previewedSession(hash, "/inbox/Artist - Album", 1)
	require.NoError(t, s.SaveSession(ctx, first))

	rev, err := s.NextRevision(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 2, rev)

	second := previewedSession(hash, "/inbox/Artist - Album", rev)
	require.NoError(t, s.SaveSession(ctx, second))

	latest, err := s.SessionByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, 2, latest.FolderRevision)

	older, err := s.SessionByID(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, older.Tasks, 1)
	assert.NotNil(t, older.Tasks[0].Candidate("mb-30fd0c55-0000-0000-0000-000000000000"),
		"the earlier revision keeps its candidate rows")
}

// Re-saving one session must stay idempotent: tasks and candidates are
// replaced, not duplicated.
func TestResaveReplacesGraph(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	hash := uuid.NewString()
	cleanupHash(t, s, hash)

	sess := previewedSession(hash, "/inbox/Artist - Album", 1)
	require.NoError(t, s.SaveSession(ctx, sess))

	sess.Tasks[0].ChosenCandidateID = "mb-30fd0c55-0000-0000-0000-000000000000"
	sess.Tasks[0].SetProgress(state.ImportCompleted)
	require.NoError(t, s.SaveSession(ctx, sess))

	loaded, err := s.SessionByHash(ctx, hash)
	require.NoError(t, err)
	require.Len(t, loaded.Tasks, 1)
	assert.Equal(t, state.ImportCompleted, loaded.Progress())
	assert.Equal(t, "mb-30fd0c55-0000-0000-0000-000000000000", loaded.Tasks[0].ChosenCandidateID)
	assert.Len(t, loaded.Tasks[0].Candidates, 2)
}
