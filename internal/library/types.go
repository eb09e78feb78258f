package library

import "time"

// ItemInfo describes one local audio file inside an import task.
type ItemInfo struct {
	Path   string  `json:"path"`
	Size   int64   `json:"size"`
	Title  string  `json:"title,omitempty"`
	Artist string  `json:"artist,omitempty"`
	Album  string  `json:"album,omitempty"`
	Track  int     `json:"track,omitempty"`
	Disc   int     `json:"disc,omitempty"`
	Length float64 `json:"length,omitempty"`
}

// TrackInfo is one track of an online release candidate.
type TrackInfo struct {
	ID     string  `json:"id,omitempty"`
	Title  string  `json:"title"`
	Artist string  `json:"artist,omitempty"`
	Index  int     `json:"index"`
	Length float64 `json:"length,omitempty"`
}

// AlbumInfo is the album-level payload of a match candidate.
type AlbumInfo struct {
	AlbumID     string      `json:"album_id,omitempty"`
	Album       string      `json:"album"`
	Artist      string      `json:"artist"`
	Year        int         `json:"year,omitempty"`
	MediaCount  int         `json:"media_count,omitempty"`
	Country     string      `json:"country,omitempty"`
	Label       string      `json:"label,omitempty"`
	DataSource  string      `json:"data_source,omitempty"`
	Tracks      []TrackInfo `json:"-"`
}

// Metadata is the artist/album pair currently carried by an import
// task's files.
type Metadata struct {
	Artist string `json:"artist"`
	Album  string `json:"album"`
}

// ImportTask is the opaque handle to one album-scope unit of work: the
// top folder, the item files under it, and the metadata they carry now.
type ImportTask struct {
	TopPath string
	Paths   []string
	Items   []ItemInfo
	Current Metadata
}

// Album is an album row of the music library.
type Album struct {
	ID          int64
	AlbumArtist string
	Album       string
	Year        int
	Dir         string
	AddedAt     time.Time
}

// Item is a file row of the music library.
type Item struct {
	ID      int64
	AlbumID int64
	Path    string
	Title   string
	Artist  string
	Track   int
	Size    int64
}
