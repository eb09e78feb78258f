package config

import (
	"database/sql"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// AutotagKind controls what an inbox does when a new album folder settles.
type AutotagKind string

const (
	AutotagOff     AutotagKind = "off"
	AutotagPreview AutotagKind = "preview"
	AutotagAuto    AutotagKind = "auto"
	AutotagBootleg AutotagKind = "bootleg"
)

// InboxFolder is one watched drop folder.
type InboxFolder struct {
	Path          string
	Autotag       AutotagKind
	AutoThreshold float64
}

// DuplicateAction resolves a candidate that collides with an existing
// library album.
type DuplicateAction string

const (
	DuplicateAsk    DuplicateAction = "ask"
	DuplicateSkip   DuplicateAction = "skip"
	DuplicateKeep   DuplicateAction = "keep"
	DuplicateRemove DuplicateAction = "remove"
	DuplicateMerge  DuplicateAction = "merge"
)

type Config struct {
	Port        int
	DatabaseURL string
	RedisAddr   string
	MusicDir    string

	Inboxes          []InboxFolder
	DuplicateAction  DuplicateAction
	StrongRecThresh  float64
	MediumRecThresh  float64
	PreviewWorkers   int
	DebounceWindow   time.Duration
	WorkerReadyDelay time.Duration
	JobTimeout       time.Duration
	RescanCron       string

	AudioExtensions  []string
	ArtistSeparators []string
	DiscFolderRegex  string
	HashCacheSize    int
	DuplicateKeys    []string
}

func Load() *Config {
	cfg := &Config{
		Port:             envInt("PORT", 8337),
		DatabaseURL:      env("DATABASE_URL", "postgres://tunevault:tunevault@db:5432/tunevault?sslmode=disable"),
		RedisAddr:        env("REDIS_ADDR", "redis:6379"),
		MusicDir:         env("MUSIC_DIR", "/music/library"),
		DuplicateAction:  DuplicateAction(env("IMPORT_DUPLICATE_ACTION", string(DuplicateAsk))),
		StrongRecThresh:  envFloat("MATCH_STRONG_REC_THRESH", 0.04),
		MediumRecThresh:  envFloat("MATCH_MEDIUM_REC_THRESH", 0.25),
		PreviewWorkers:   envInt("NUM_PREVIEW_WORKERS", 4),
		DebounceWindow:   envDuration("INBOX_DEBOUNCE_WINDOW", 30*time.Second),
		WorkerReadyDelay: envDuration("WORKER_READY_DELAY", 5*time.Second),
		JobTimeout:       envDuration("JOB_TIMEOUT", time.Hour),
		RescanCron:       env("INBOX_RESCAN_CRON", "@hourly"),
		AudioExtensions:  envList("AUDIO_EXTENSIONS", ".mp3,.flac,.aac,.ogg,.wav,.m4a,.alac,.wma,.opus,.ape,.wv"),
		ArtistSeparators: envList("ARTIST_SEPARATORS", ";,/,feat."),
		DiscFolderRegex:  env("DISC_FOLDER_REGEX", `(?i)^(cd|disc|disk)\s*([0-9]+)$`),
		HashCacheSize:    envInt("HASH_CACHE_SIZE", 512),
		DuplicateKeys:    envList("DUPLICATE_KEYS", "albumartist,album"),
	}
	cfg.Inboxes = parseInboxes(env("INBOX_FOLDERS", ""))
	return cfg
}

// parseInboxes reads "path:kind[:threshold]" entries separated by
// semicolons, e.g. "/music/inbox:preview;/music/auto:auto:0.15".
func parseInboxes(raw string) []InboxFolder {
	var inboxes []InboxFolder
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		in := InboxFolder{Path: parts[0], Autotag: AutotagPreview}
		if len(parts) > 1 {
			in.Autotag = AutotagKind(parts[1])
		}
		if len(parts) > 2 {
			if v, err := strconv.ParseFloat(parts[2], 64); err == nil {
				in.AutoThreshold = v
			}
		}
		switch in.Autotag {
		case AutotagOff, AutotagPreview, AutotagAuto, AutotagBootleg:
		default:
			log.Printf("Config: inbox %s has unknown autotag kind %q, using preview", in.Path, in.Autotag)
			in.Autotag = AutotagPreview
		}
		inboxes = append(inboxes, in)
	}
	return inboxes
}

// MergeFromDB overlays values stored in the settings table. A missing
// table is not an error; the env/default values stand.
func (c *Config) MergeFromDB(db *sql.DB) {
	rows, err := db.Query("SELECT key, value FROM settings")
	if err != nil {
		log.Printf("Config: skipping DB merge: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		switch key {
		case "inbox_folders":
			c.Inboxes = parseInboxes(value)
		case "import_duplicate_action":
			c.DuplicateAction = DuplicateAction(value)
		case "match_strong_rec_thresh":
			c.StrongRecThresh = cast.ToFloat64(value)
		case "match_medium_rec_thresh":
			c.MediumRecThresh = cast.ToFloat64(value)
		case "num_preview_workers":
			if v := cast.ToInt(value); v > 0 {
				c.PreviewWorkers = v
			}
		case "inbox_debounce_window":
			if d := cast.ToDuration(value); d > 0 {
				c.DebounceWindow = d
			}
		case "job_timeout":
			if d := cast.ToDuration(value); d > 0 {
				c.JobTimeout = d
			}
		case "inbox_rescan_cron":
			c.RescanCron = value
		case "artist_separators":
			c.ArtistSeparators = strings.Split(value, ",")
		}
	}
}

// InboxFor returns the configured inbox containing path, if any.
func (c *Config) InboxFor(path string) *InboxFolder {
	for i := range c.Inboxes {
		root := strings.TrimRight(c.Inboxes[i].Path, "/")
		if path == root || strings.HasPrefix(path, root+"/") {
			return &c.Inboxes[i]
		}
	}
	return nil
}

// IsWorker reports whether this process was started as a queue worker.
// The inbox watcher must only run under the main server process.
func IsWorker() bool {
	return os.Getenv("TUNEVAULT_WORKER") == "1"
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key, fallback string) []string {
	raw := env(key, fallback)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
