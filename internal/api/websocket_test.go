package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevault/tunevault/internal/session/state"
	"github.com/tunevault/tunevault/internal/status"
)

func newConnectedClient(h *WSHub) *WSClient {
	c := &WSClient{send: make(chan []byte, 16)}
	h.addClient(c)
	return c
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := NewWSHub()
	a := newConnectedClient(h)
	b := newConnectedClient(h)
	assert.Equal(t, 2, h.ClientCount())

	h.Broadcast("inbox:fs", status.FileSystemUpdate{})

	for _, c := range []*WSClient{a, b} {
		select {
		case msg := <-c.send:
			var m WSMessage
			require.NoError(t, json.Unmarshal(msg, &m))
			assert.Equal(t, "inbox:fs", m.Event)
		default:
			t.Fatal("client did not receive the broadcast")
		}
	}
}

func TestBroadcastSkipsSlowClients(t *testing.T) {
	h := NewWSHub()
	c := &WSClient{send: make(chan []byte)} // unbuffered, nobody reading
	h.addClient(c)

	done := make(chan struct{})
	go func() {
		h.Broadcast("inbox:fs", status.FileSystemUpdate{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast must never block on a slow client")
	}
}

func TestFolderStateReplay(t *testing.T) {
	h := NewWSHub()
	h.Broadcast("folder:status", status.FolderStatusUpdate{
		Hash:   "deadbeef00000000",
		Path:   "/inbox/x",
		Status: state.StatusPreviewing,
	})
	h.Broadcast("folder:status", status.FolderStatusUpdate{
		Hash:   "deadbeef00000000",
		Path:   "/inbox/x",
		Status: state.StatusTagged,
	})
	h.Broadcast("folder:status", status.FolderStatusUpdate{
		Hash:   "cafebabe00000000",
		Path:   "/inbox/y",
		Status: state.StatusImporting,
	})

	late := newConnectedClient(h)
	h.sendFolderStates(late)

	seen := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-late.send:
			var m struct {
				Event string                    `json:"event"`
				Data  status.FolderStatusUpdate `json:"data"`
			}
			require.NoError(t, json.Unmarshal(msg, &m))
			seen[m.Data.Hash] = string(m.Data.Status)
		default:
			t.Fatal("expected a replayed folder state")
		}
	}
	assert.Equal(t, "tagged", seen["deadbeef00000000"], "only the latest status per folder is replayed")
	assert.Equal(t, "importing", seen["cafebabe00000000"])
}

func TestRemoveClientClosesSend(t *testing.T) {
	h := NewWSHub()
	c := newConnectedClient(h)
	h.removeClient(c)
	assert.Equal(t, 0, h.ClientCount())

	_, open := <-c.send
	assert.False(t, open)

	// Double removal is harmless.
	h.removeClient(c)
}
