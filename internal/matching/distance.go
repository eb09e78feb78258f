package matching

import (
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/tunevault/tunevault/internal/library"
)

// Weights roughly follow the usual autotagger split: identity of the
// release dominates, per-track differences refine.
const (
	weightArtist     = 0.35
	weightAlbum      = 0.35
	weightTrackCount = 0.15
	weightTracks     = 0.15
)

// Distance scores a candidate release against the task's items.
// 0 means exact; 1 means nothing matches. The returned penalties name
// the components that deducted.
func Distance(items []library.ItemInfo, current library.Metadata, info library.AlbumInfo) (float64, []string) {
	var dist float64
	var penalties []string

	if d := stringDist(current.Artist, info.Artist); d > 0 {
		dist += weightArtist * d
		penalties = append(penalties, "artist")
	}
	if d := stringDist(current.Album, info.Album); d > 0 {
		dist += weightAlbum * d
		penalties = append(penalties, "album")
	}

	if len(info.Tracks) != len(items) {
		diff := float64(abs(len(info.Tracks) - len(items)))
		denom := float64(max(len(info.Tracks), len(items), 1))
		dist += weightTrackCount * (diff / denom)
		penalties = append(penalties, "tracks")
	}

	mapping := BuildMapping(items, info.Tracks)
	if len(mapping) > 0 {
		var trackDist float64
		for i, j := range mapping {
			trackDist += stringDist(items[i].Title, info.Tracks[j].Title)
		}
		trackDist /= float64(len(mapping))
		if trackDist > 0 {
			dist += weightTracks * trackDist
			if !contains(penalties, "tracks") {
				penalties = append(penalties, "tracks")
			}
		}
	}

	if dist > 1 {
		dist = 1
	}
	return dist, penalties
}

// BuildMapping pairs local items with candidate tracks. Items and
// tracks are both addressed by index; an item with no plausible track
// is left unmapped (the mapping is a partial function).
func BuildMapping(items []library.ItemInfo, tracks []library.TrackInfo) map[int]int {
	mapping := make(map[int]int)
	used := make(map[int]bool)

	// First pass: title similarity.
	for i, item := range items {
		bestJ, bestD := -1, 0.4
		for j, track := range tracks {
			if used[j] {
				continue
			}
			if d := stringDist(item.Title, track.Title); d < bestD {
				bestJ, bestD = j, d
			}
		}
		if bestJ >= 0 {
			mapping[i] = bestJ
			used[bestJ] = true
		}
	}

	// Second pass: positional fallback for untitled files.
	for i := range items {
		if _, ok := mapping[i]; ok {
			continue
		}
		if i < len(tracks) && !used[i] {
			mapping[i] = i
			used[i] = true
		}
	}
	return mapping
}

// stringDist is 1 - normalized similarity, case- and space-insensitive.
// Empty local metadata is no evidence either way.
func stringDist(local, remote string) float64 {
	local = normalize(local)
	remote = normalize(remote)
	if local == "" || remote == "" {
		return 0
	}
	if local == remote {
		return 0
	}
	sim, err := edlib.StringsSimilarity(local, remote, edlib.Levenshtein)
	if err != nil {
		return 1
	}
	return 1 - float64(sim)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func max(nums ...int) int {
	m := nums[0]
	for _, n := range nums[1:] {
		if n > m {
			m = n
		}
	}
	return m
}
