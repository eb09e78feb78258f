package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevault/tunevault/internal/library"
)

func TestDistanceExactMatch(t *testing.T) {
	items := []library.ItemInfo{
		{Title: "Speak to Me", Track: 1},
		{Title: "Breathe", Track: 2},
	}
	current := library.Metadata{Artist: "Pink Floyd", Album: "The Dark Side of the Moon"}
	info := library.AlbumInfo{
		Artist: "Pink Floyd",
		Album:  "The Dark Side of the Moon",
		Tracks: []library.TrackInfo{
			{Title: "Speak to Me", Index: 1},
			{Title: "Breathe", Index: 2},
		},
	}

	dist, penalties := Distance(items, current, info)
	assert.Zero(t, dist)
	assert.Empty(t, penalties)
}

func TestDistanceCaseAndSpacingInsensitive(t *testing.T) {
	items := []library.ItemInfo{{Title: "speak  TO me"}}
	current := library.Metadata{Artist: "PINK   floyd", Album: "the dark side of the moon"}
	info := library.AlbumInfo{
		Artist: "Pink Floyd",
		Album:  "The Dark Side of the Moon",
		Tracks: []library.TrackInfo{{Title: "Speak to Me"}},
	}

	dist, _ := Distance(items, current, info)
	assert.Zero(t, dist)
}

func TestDistancePenalizesComponents(t *testing.T) {
	items := []library.ItemInfo{{Title: "One"}, {Title: "Two"}}
	current := library.Metadata{Artist: "Someone Else", Album: "Album"}
	info := library.AlbumInfo{
		Artist: "Artist",
		Album:  "Album",
		Tracks: []library.TrackInfo{{Title: "One"}, {Title: "Two"}, {Title: "Three"}},
	}

	dist, penalties := Distance(items, current, info)
	assert.Greater(t, dist, 0.0)
	assert.LessOrEqual(t, dist, 1.0)
	assert.Contains(t, penalties, "artist")
	assert.Contains(t, penalties, "tracks", "track count mismatch deducts")
	assert.NotContains(t, penalties, "album")
}

func TestDistanceEmptyLocalMetadataIsNoEvidence(t *testing.T) {
	items := []library.ItemInfo{{Title: "One"}}
	current := library.Metadata{}
	info := library.AlbumInfo{
		Artist: "Artist",
		Album:  "Album",
		Tracks: []library.TrackInfo{{Title: "One"}},
	}

	dist, penalties := Distance(items, current, info)
	assert.Zero(t, dist)
	assert.Empty(t, penalties)
}

func TestBuildMappingByTitle(t *testing.T) {
	items := []library.ItemInfo{
		{Title: "Breathe"},
		{Title: "Speak to Me"},
	}
	tracks := []library.TrackInfo{
		{Title: "Speak to Me", Index: 1},
		{Title: "Breathe", Index: 2},
	}

	mapping := BuildMapping(items, tracks)
	require.Len(t, mapping, 2)
	assert.Equal(t, 1, mapping[0], "titles beat positions")
	assert.Equal(t, 0, mapping[1])
}

func TestBuildMappingPositionalFallback(t *testing.T) {
	items := []library.ItemInfo{
		{Title: ""},
		{Title: ""},
	}
	tracks := []library.TrackInfo{
		{Title: "Speak to Me"},
		{Title: "Breathe"},
	}

	mapping := BuildMapping(items, tracks)
	require.Len(t, mapping, 2)
	assert.Equal(t, 0, mapping[0])
	assert.Equal(t, 1, mapping[1])
}

func TestBuildMappingIsPartial(t *testing.T) {
	items := []library.ItemInfo{
		{Title: "Speak to Me"},
		{Title: "Hidden Bonus Jam"},
		{Title: "Extra"},
	}
	tracks := []library.TrackInfo{
		{Title: "Speak to Me"},
	}

	mapping := BuildMapping(items, tracks)
	assert.Equal(t, 0, mapping[0])
	_, mapped := mapping[1]
	assert.False(t, mapped, "items with no plausible track stay unmapped")
	assert.Len(t, mapping, 1)

	// Injective: no two items share a track.
	seen := make(map[int]bool)
	for _, j := range mapping {
		assert.False(t, seen[j])
		seen[j] = true
	}
}
