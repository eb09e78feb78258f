package fingerprint

import (
	"path/filepath"
	"strings"

	"github.com/tunevault/tunevault/internal/config"
)

// DiskMetadata is the artist/album guess read from a folder on disk.
// It seeds the synthetic asis candidate when files carry no usable tags.
type DiskMetadata struct {
	Artist string
	Album  string
}

// GuessMetadata derives artist and album from the folder name. The
// common inbox layouts are "Artist - Album" and "Artist/Album"; the
// first configured artist separator that matches wins.
func GuessMetadata(folderPath string, cfg *config.Config) DiskMetadata {
	base := strings.TrimSuffix(filepath.Base(folderPath), filepath.Ext(folderPath))

	if artist, album, ok := strings.Cut(base, " - "); ok {
		return DiskMetadata{
			Artist: primaryArtist(strings.TrimSpace(artist), cfg.ArtistSeparators),
			Album:  strings.TrimSpace(album),
		}
	}

	parentDir := filepath.Dir(folderPath)
	parent := filepath.Base(parentDir)
	if !isInboxRoot(parentDir, cfg) && parent != "." && parent != "/" {
		// Artist/Album layout: the parent directory names the artist.
		return DiskMetadata{
			Artist: primaryArtist(parent, cfg.ArtistSeparators),
			Album:  base,
		}
	}
	return DiskMetadata{Album: base}
}

func isInboxRoot(dir string, cfg *config.Config) bool {
	dir = filepath.Clean(dir)
	for _, in := range cfg.Inboxes {
		if filepath.Clean(in.Path) == dir {
			return true
		}
	}
	return false
}

// primaryArtist cuts a joined artist credit down to its first artist.
func primaryArtist(artist string, separators []string) string {
	for _, sep := range separators {
		if idx := strings.Index(artist, sep); idx > 0 {
			artist = artist[:idx]
		}
	}
	return strings.TrimSpace(artist)
}
