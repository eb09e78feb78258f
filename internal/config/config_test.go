package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInboxes(t *testing.T) {
	inboxes := parseInboxes("/music/inbox:preview;/music/auto:auto:0.15; /music/boots:bootleg ;/music/raw")
	require.Len(t, inboxes, 4)

	assert.Equal(t, InboxFolder{Path: "/music/inbox", Autotag: AutotagPreview}, inboxes[0])
	assert.Equal(t, InboxFolder{Path: "/music/auto", Autotag: AutotagAuto, AutoThreshold: 0.15}, inboxes[1])
	assert.Equal(t, AutotagBootleg, inboxes[2].Autotag)
	assert.Equal(t, AutotagPreview, inboxes[3].Autotag, "kind defaults to preview")
}

func TestParseInboxesUnknownKindFallsBack(t *testing.T) {
	inboxes := parseInboxes("/music/inbox:frobnicate")
	require.Len(t, inboxes, 1)
	assert.Equal(t, AutotagPreview, inboxes[0].Autotag)
}

func TestParseInboxesEmpty(t *testing.T) {
	assert.Empty(t, parseInboxes(""))
	assert.Empty(t, parseInboxes(" ; ;"))
}

func TestInboxFor(t *testing.T) {
	cfg := &Config{Inboxes: []InboxFolder{
		{Path: "/music/inbox", Autotag: AutotagPreview},
		{Path: "/music/auto/", Autotag: AutotagAuto},
	}}

	in := cfg.InboxFor("/music/inbox/Artist - Album/01.mp3")
	require.NotNil(t, in)
	assert.Equal(t, "/music/inbox", in.Path)

	in = cfg.InboxFor("/music/auto")
	require.NotNil(t, in)
	assert.Equal(t, AutotagAuto, in.Autotag)

	assert.Nil(t, cfg.InboxFor("/music/inboxes/other"), "prefix match is path-segment aware")
	assert.Nil(t, cfg.InboxFor("/elsewhere"))
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 8337, cfg.Port)
	assert.Equal(t, DuplicateAsk, cfg.DuplicateAction)
	assert.InDelta(t, 0.04, cfg.StrongRecThresh, 1e-9)
	assert.Equal(t, 4, cfg.PreviewWorkers)
	assert.Contains(t, cfg.AudioExtensions, ".flac")
	assert.NotEmpty(t, cfg.RescanCron)
}

func TestEnvListTrimsAndSkipsEmpty(t *testing.T) {
	t.Setenv("TEST_LIST_KEY", " .mp3 , , .flac ")
	assert.Equal(t, []string{".mp3", ".flac"}, envList("TEST_LIST_KEY", ""))
}
