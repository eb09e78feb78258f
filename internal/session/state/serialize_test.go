package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevault/tunevault/internal/library"
)

func TestSerializeSessionShape(t *testing.T) {
	s := newTestSession()
	task := newTestTask(s)
	task.AddCandidate(&CandidateState{
		ID:        "mb-abc",
		Type:      "album",
		Info:      library.AlbumInfo{AlbumID: "abc", Album: "Album", Artist: "Artist"},
		Distance:  0.12,
		Penalties: []string{"year"},
		Mapping:   map[int]int{0: 1, 1: 0},
	})
	task.SetProgress(PreviewCompleted)

	out := Serialize(s)

	assert.Equal(t, s.ID.String(), out.ID)
	assert.Equal(t, s.FolderHash, out.FolderHash)
	assert.Equal(t, "preview_completed", out.Status.Progress)
	assert.True(t, out.Completed)
	require.Len(t, out.Tasks, 1)

	st := out.Tasks[0]
	assert.True(t, st.Completed)
	assert.Equal(t, task.AsisCandidate().ID, st.AsisCandidate)
	// asis candidate is materialized during serialization
	require.Len(t, st.Candidates, 2)

	var mb *SerializedCandidate
	for i := range st.Candidates {
		if st.Candidates[i].ID == "mb-abc" {
			mb = &st.Candidates[i]
		}
	}
	require.NotNil(t, mb)
	assert.Equal(t, map[string]int{"0": 1, "1": 0}, mb.Mapping, "mapping keys become strings")
	assert.Equal(t, []int64{}, mb.DuplicateIDs, "nil slices normalize to empty")

	// Timestamps are RFC3339 UTC.
	created, err := time.Parse(time.RFC3339, out.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, created.Location())
}

func TestSerializeCarriesFailure(t *testing.T) {
	s := newTestSession()
	newTestTask(s)
	s.Fail(assertableErr{})

	out := Serialize(s)
	require.NotNil(t, out.Exc)

	// The wire form survives a JSON round trip with stable keys.
	data, err := json.Marshal(out)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "folder_hash")
	assert.Contains(t, decoded, "exc")
	assert.Contains(t, decoded, "tasks")
}
