package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/config"
	"github.com/tunevault/tunevault/internal/fingerprint"
	"github.com/tunevault/tunevault/internal/session/state"
	"github.com/tunevault/tunevault/internal/status"
)

type enqueueCall struct {
	kind string
	hash string
	path string
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
}

func (f *fakeEnqueuer) record(kind, hash, path string) (status.JobMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, enqueueCall{kind: kind, hash: hash, path: path})
	return status.JobMeta{FolderHash: hash, FolderPath: path, JobKind: kind}, nil
}

func (f *fakeEnqueuer) Preview(ctx context.Context, hash, path, ref string) (status.JobMeta, error) {
	return f.record("preview", hash, path)
}

func (f *fakeEnqueuer) ImportAuto(ctx context.Context, hash, path string, threshold float64,
	actions map[string]string, ref string) (status.JobMeta, error) {
	return f.record("auto", hash, path)
}

func (f *fakeEnqueuer) ImportBootleg(ctx context.Context, hash, path, ref string) (status.JobMeta, error) {
	return f.record("bootleg", hash, path)
}

func (f *fakeEnqueuer) snapshot() []enqueueCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enqueueCall(nil), f.calls...)
}

type fakeSessions struct {
	sessions map[string]*state.SessionState
}

func (f *fakeSessions) SessionByPath(ctx context.Context, path string) (*state.SessionState, error) {
	if s, ok := f.sessions[path]; ok {
		return s, nil
	}
	return nil, apperr.NotFound("no session found")
}

func newTestWatcher(t *testing.T, inbox config.InboxFolder, sessions *fakeSessions) (*Watcher, *fakeEnqueuer) {
	t.Helper()
	cfg := &config.Config{
		Inboxes:         []config.InboxFolder{inbox},
		AudioExtensions: []string{".mp3"},
		DiscFolderRegex: `(?i)^(cd|disc|disk)\s*([0-9]+)$`,
		HashCacheSize:   16,
		DebounceWindow:  40 * time.Millisecond,
	}
	fp, err := fingerprint.New(cfg)
	require.NoError(t, err)
	if sessions == nil {
		sessions = &fakeSessions{}
	}
	enq := &fakeEnqueuer{}
	return &Watcher{
		cfg:      cfg,
		fp:       fp,
		sessions: sessions,
		enqueue:  enq,
		notifier: status.Nop{},
		debounce: make(map[string]*time.Timer),
		stop:     make(chan struct{}),
	}, enq
}

func makeAlbum(t *testing.T, inbox, name string) string {
	t.Helper()
	dir := filepath.Join(inbox, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.mp3"), []byte("xx"), 0o644))
	return dir
}

func waitForCalls(t *testing.T, enq *fakeEnqueuer, n int) []enqueueCall {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if calls := enq.snapshot(); len(calls) >= n {
			return calls
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d enqueue calls, got %d", n, len(enq.snapshot()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDebounceCollapsesBursts(t *testing.T) {
	inboxDir := t.TempDir()
	w, enq := newTestWatcher(t, config.InboxFolder{Path: inboxDir, Autotag: config.AutotagPreview}, nil)
	album := makeAlbum(t, inboxDir, "Artist - Album")
	inbox := &w.cfg.Inboxes[0]

	// A burst of events inside the window fires exactly once.
	for i := 0; i < 5; i++ {
		w.schedule(album, inbox)
		time.Sleep(2 * time.Millisecond)
	}

	calls := waitForCalls(t, enq, 1)
	require.Len(t, calls, 1)
	assert.Equal(t, "preview", calls[0].kind)
	assert.Equal(t, album, calls[0].path)
	assert.NotEmpty(t, calls[0].hash)

	// The window stays quiet afterwards.
	time.Sleep(3 * w.cfg.DebounceWindow)
	assert.Len(t, enq.snapshot(), 1)
}

func TestDebounceFiresPerFolder(t *testing.T) {
	inboxDir := t.TempDir()
	w, enq := newTestWatcher(t, config.InboxFolder{Path: inboxDir, Autotag: config.AutotagAuto}, nil)
	a := makeAlbum(t, inboxDir, "A - One")
	b := makeAlbum(t, inboxDir, "B - Two")
	inbox := &w.cfg.Inboxes[0]

	w.schedule(a, inbox)
	w.schedule(b, inbox)

	calls := waitForCalls(t, enq, 2)
	paths := map[string]bool{calls[0].path: true, calls[1].path: true}
	assert.True(t, paths[a])
	assert.True(t, paths[b])
	assert.Equal(t, "auto", calls[0].kind)
}

func TestFireSkipsUnchangedPreviewSession(t *testing.T) {
	inboxDir := t.TempDir()
	album := makeAlbum(t, inboxDir, "Artist - Album")

	cfgForHash := &config.Config{
		AudioExtensions: []string{".mp3"},
		DiscFolderRegex: `(?i)^(cd|disc|disk)\s*([0-9]+)$`,
		HashCacheSize:   16,
	}
	fp, err := fingerprint.New(cfgForHash)
	require.NoError(t, err)
	hash, err := fp.Hash(album)
	require.NoError(t, err)

	sessions := &fakeSessions{sessions: map[string]*state.SessionState{
		album: state.NewSession(state.Folder{Path: album, Hash: hash, IsAlbum: true}),
	}}
	w, enq := newTestWatcher(t, config.InboxFolder{Path: inboxDir, Autotag: config.AutotagPreview}, sessions)

	w.fire(album, &w.cfg.Inboxes[0])
	assert.Empty(t, enq.snapshot(), "matching stored hash means nothing to do")

	// Changed content re-enqueues.
	require.NoError(t, os.WriteFile(filepath.Join(album, "02.mp3"), []byte("yyy"), 0o644))
	w.fp.Invalidate(album)
	w.fire(album, &w.cfg.Inboxes[0])
	assert.Len(t, enq.snapshot(), 1)
}

func TestBootlegInboxAlwaysReusesSession(t *testing.T) {
	inboxDir := t.TempDir()
	album := makeAlbum(t, inboxDir, "Artist - Bootleg")

	sessions := &fakeSessions{sessions: map[string]*state.SessionState{
		album: state.NewSession(state.Folder{Path: album, Hash: "0011223344556677", IsAlbum: true}),
	}}
	w, enq := newTestWatcher(t, config.InboxFolder{Path: inboxDir, Autotag: config.AutotagBootleg}, sessions)

	// A session exists, and bootleg inboxes never re-tag on drift.
	w.fire(album, &w.cfg.Inboxes[0])
	assert.Empty(t, enq.snapshot())
}

func TestScheduleIgnoresOffInboxes(t *testing.T) {
	inboxDir := t.TempDir()
	w, enq := newTestWatcher(t, config.InboxFolder{Path: inboxDir, Autotag: config.AutotagOff}, nil)
	album := makeAlbum(t, inboxDir, "Artist - Album")

	w.schedule(album, &w.cfg.Inboxes[0])
	time.Sleep(3 * w.cfg.DebounceWindow)
	assert.Empty(t, enq.snapshot())
}

func TestRescanSchedulesExistingAlbums(t *testing.T) {
	inboxDir := t.TempDir()
	w, enq := newTestWatcher(t, config.InboxFolder{Path: inboxDir, Autotag: config.AutotagPreview}, nil)
	makeAlbum(t, inboxDir, "Artist - Album")
	makeAlbum(t, inboxDir, "Other - Record")
	require.NoError(t, os.MkdirAll(filepath.Join(inboxDir, ".stage"), 0o755))

	w.Rescan()
	calls := waitForCalls(t, enq, 2)
	assert.Len(t, calls, 2)
}

func TestRescanFindsNestedAlbums(t *testing.T) {
	inboxDir := t.TempDir()
	w, enq := newTestWatcher(t, config.InboxFolder{Path: inboxDir, Autotag: config.AutotagPreview}, nil)

	flat := makeAlbum(t, inboxDir, "Artist - Album")
	nested := makeAlbum(t, inboxDir, filepath.Join("Artist", "Album"))

	// Disc layout: the album root holds only disc subfolders.
	discAlbum := filepath.Join(inboxDir, "Band", "Live")
	require.NoError(t, os.MkdirAll(discAlbum, 0o755))
	makeAlbum(t, discAlbum, "CD1")
	makeAlbum(t, discAlbum, "CD2")

	// Albums under a dot-directory stay invisible.
	makeAlbum(t, inboxDir, filepath.Join(".stage", "Hidden - Album"))

	w.Rescan()
	calls := waitForCalls(t, enq, 3)
	time.Sleep(3 * w.cfg.DebounceWindow)

	calls = enq.snapshot()
	require.Len(t, calls, 3)
	paths := map[string]bool{}
	for _, c := range calls {
		paths[c.path] = true
	}
	assert.True(t, paths[flat])
	assert.True(t, paths[nested], "albums nested under an artist folder are found")
	assert.True(t, paths[discAlbum], "disc subfolders collapse to one album root")
}
