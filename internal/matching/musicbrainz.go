// Package matching looks up release candidates for an import task and
// scores them against the files on disk.
package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tunevault/tunevault/internal/library"
)

// Source is an online metadata provider.
type Source interface {
	// Search returns release candidates for an artist/album query.
	Search(ctx context.Context, artist, album string) ([]library.AlbumInfo, error)
	// Lookup fetches one release with its full track list.
	Lookup(ctx context.Context, releaseID string) (*library.AlbumInfo, error)
}

const mbBase = "https://musicbrainz.org/ws/2"

// MusicBrainz queries the MusicBrainz web service. Requests are held
// to 1/second per their usage policy.
type MusicBrainz struct {
	client  *http.Client
	limiter *rate.Limiter
	agent   string
}

func NewMusicBrainz() *MusicBrainz {
	return &MusicBrainz{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		agent:   "TuneVault/1.0 (https://github.com/tunevault/tunevault)",
	}
}

func (m *MusicBrainz) get(ctx context.Context, path string, out interface{}) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mbBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", m.agent)
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("MusicBrainz rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("MusicBrainz: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type mbRelease struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Date         string `json:"date"`
	Country      string `json:"country"`
	ArtistCredit []struct {
		Name   string `json:"name"`
		Artist struct {
			Name string `json:"name"`
		} `json:"artist"`
	} `json:"artist-credit"`
	LabelInfo []struct {
		Label struct {
			Name string `json:"name"`
		} `json:"label"`
	} `json:"label-info"`
	Media []struct {
		TrackCount int `json:"track-count"`
		Tracks     []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Position int    `json:"position"`
			Length   int    `json:"length"`
			Recording struct {
				Title  string `json:"title"`
				Length int    `json:"length"`
			} `json:"recording"`
		} `json:"tracks"`
	} `json:"media"`
}

func (r *mbRelease) toAlbumInfo() library.AlbumInfo {
	info := library.AlbumInfo{
		AlbumID:    r.ID,
		Album:      r.Title,
		Country:    r.Country,
		DataSource: "MusicBrainz",
	}
	if len(r.ArtistCredit) > 0 {
		info.Artist = r.ArtistCredit[0].Name
		if info.Artist == "" {
			info.Artist = r.ArtistCredit[0].Artist.Name
		}
	}
	if len(r.LabelInfo) > 0 {
		info.Label = r.LabelInfo[0].Label.Name
	}
	if len(r.Date) >= 4 {
		fmt.Sscanf(r.Date[:4], "%d", &info.Year)
	}
	index := 0
	for _, medium := range r.Media {
		info.MediaCount++
		for _, t := range medium.Tracks {
			title := t.Title
			if title == "" {
				title = t.Recording.Title
			}
			length := t.Length
			if length == 0 {
				length = t.Recording.Length
			}
			index++
			info.Tracks = append(info.Tracks, library.TrackInfo{
				ID:     t.ID,
				Title:  title,
				Artist: info.Artist,
				Index:  index,
				Length: float64(length) / 1000,
			})
		}
	}
	return info
}

func (m *MusicBrainz) Search(ctx context.Context, artist, album string) ([]library.AlbumInfo, error) {
	var terms []string
	if album != "" {
		terms = append(terms, fmt.Sprintf(`release:%q`, album))
	}
	if artist != "" {
		terms = append(terms, fmt.Sprintf(`artist:%q`, artist))
	}
	if len(terms) == 0 {
		return nil, nil
	}
	query := url.QueryEscape(strings.Join(terms, " AND "))

	var result struct {
		Releases []mbRelease `json:"releases"`
	}
	if err := m.get(ctx, "/release/?query="+query+"&fmt=json&limit=5", &result); err != nil {
		return nil, err
	}

	// Search results carry no track lists; fetch each release fully so
	// candidates can be scored and mapped.
	infos := make([]library.AlbumInfo, 0, len(result.Releases))
	for _, r := range result.Releases {
		full, err := m.Lookup(ctx, r.ID)
		if err != nil {
			return infos, err
		}
		infos = append(infos, *full)
	}
	return infos, nil
}

func (m *MusicBrainz) Lookup(ctx context.Context, releaseID string) (*library.AlbumInfo, error) {
	var r mbRelease
	if err := m.get(ctx, "/release/"+url.PathEscape(releaseID)+"?inc=recordings+artist-credits+labels&fmt=json", &r); err != nil {
		return nil, err
	}
	info := r.toAlbumInfo()
	return &info, nil
}
