package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevault/tunevault/internal/library"
	"github.com/tunevault/tunevault/internal/session/state"
)

// fakeLibrary satisfies library.Library for tests that only need the
// plugin hub.
type fakeLibrary struct {
	plugins *library.PluginHub
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{plugins: library.NewPluginHub()}
}

func (f *fakeLibrary) QueryDuplicates(ctx context.Context, meta library.AlbumInfo, keys []string) ([]library.Album, error) {
	return nil, nil
}
func (f *fakeLibrary) AlbumItems(ctx context.Context, albumID int64) ([]library.Item, error) {
	return nil, nil
}
func (f *fakeLibrary) Albums(ctx context.Context) ([]library.Album, error) { return nil, nil }
func (f *fakeLibrary) CommitImport(ctx context.Context, req library.ImportRequest) ([]library.Item, error) {
	return nil, nil
}
func (f *fakeLibrary) Remove(ctx context.Context, albumID int64, deleteFiles bool) error { return nil }
func (f *fakeLibrary) MoveBack(ctx context.Context, item library.Item, dest string) error {
	return nil
}
func (f *fakeLibrary) Plugins() *library.PluginHub { return f.plugins }

func TestResumeTasksAnnouncesEachTask(t *testing.T) {
	lib := newFakeLibrary()
	var mu sync.Mutex
	var started []*state.TaskState
	lib.plugins.Register("recorder", func(event string, args ...interface{}) interface{} {
		if event != library.EventImportTaskStart {
			return nil
		}
		mu.Lock()
		started = append(started, args[0].(*state.TaskState))
		mu.Unlock()
		return nil
	})

	r := &Runner{Lib: lib}
	sess := previewedSession(t, 2)

	out := make(chan *state.TaskState, len(sess.Tasks))
	require.NoError(t, r.resumeTasks(sess)(context.Background(), out))
	close(out)

	var produced []*state.TaskState
	for task := range out {
		produced = append(produced, task)
	}
	require.Len(t, produced, 2)
	assert.Equal(t, produced, started, "every task is announced, in producer order")
}

func TestResumeTasksStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Lib: newFakeLibrary()}
	sess := previewedSession(t, 1)

	err := r.resumeTasks(sess)(ctx, make(chan *state.TaskState))
	assert.ErrorIs(t, err, context.Canceled)
}
