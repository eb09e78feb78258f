// Package watcher observes the configured inbox folders and turns
// settled filesystem activity into queued tagging jobs. Events are
// debounced per album folder: every new event for the same folder
// cancels the pending timer and starts the window over, so a slow rip
// or copy enqueues exactly once.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/config"
	"github.com/tunevault/tunevault/internal/fingerprint"
	"github.com/tunevault/tunevault/internal/session/state"
	"github.com/tunevault/tunevault/internal/status"
)

// Enqueuer is the slice of the job dispatcher the watcher needs.
type Enqueuer interface {
	Preview(ctx context.Context, hash, path, frontendRef string) (status.JobMeta, error)
	ImportAuto(ctx context.Context, hash, path string, importThreshold float64,
		duplicateActions map[string]string, frontendRef string) (status.JobMeta, error)
	ImportBootleg(ctx context.Context, hash, path, frontendRef string) (status.JobMeta, error)
}

// SessionLookup is the slice of the session store the watcher needs.
type SessionLookup interface {
	SessionByPath(ctx context.Context, path string) (*state.SessionState, error)
}

type Watcher struct {
	cfg      *config.Config
	fp       *fingerprint.Fingerprinter
	sessions SessionLookup
	enqueue  Enqueuer
	notifier status.Notifier

	fsw      *fsnotify.Watcher
	mu       sync.Mutex
	debounce map[string]*time.Timer // album folder → pending timer
	stop     chan struct{}
}

// New builds a watcher over every configured inbox. Only the server
// process may watch; workers already receive their folders through the
// queue, and a second watcher would enqueue everything twice.
func New(cfg *config.Config, fp *fingerprint.Fingerprinter, sessions SessionLookup,
	enqueue Enqueuer, notifier status.Notifier) (*Watcher, error) {
	if config.IsWorker() {
		return nil, fmt.Errorf("watcher must not run in a worker process")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:      cfg,
		fp:       fp,
		sessions: sessions,
		enqueue:  enqueue,
		notifier: notifier,
		fsw:      fsw,
		debounce: make(map[string]*time.Timer),
		stop:     make(chan struct{}),
	}, nil
}

// Start registers all inbox trees, kicks off the event loop and, after
// the worker-ready delay, schedules an initial pass over everything
// already sitting in the autotag inboxes.
func (w *Watcher) Start() error {
	for _, in := range w.cfg.Inboxes {
		if err := w.addRecursive(in.Path); err != nil {
			return fmt.Errorf("watch %s: %w", in.Path, err)
		}
	}
	go w.eventLoop()
	time.AfterFunc(w.cfg.WorkerReadyDelay, w.Rescan)
	log.Printf("Watcher: observing %d inbox folder(s)", len(w.cfg.Inboxes))
	return nil
}

func (w *Watcher) Stop() {
	close(w.stop)
	w.fsw.Close()
	w.mu.Lock()
	for path, timer := range w.debounce {
		timer.Stop()
		delete(w.debounce, path)
	}
	w.mu.Unlock()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // inaccessible subtree, skip
		}
		if info.IsDir() && !strings.HasPrefix(info.Name(), ".") {
			if err := w.fsw.Add(path); err != nil {
				log.Printf("Watcher: cannot watch %s: %v", path, err)
			}
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("Watcher: error: %v", err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return
	}

	inbox := w.cfg.InboxFor(event.Name)
	if inbox == nil {
		return
	}

	// New directories join the watch set so activity inside them is
	// not missed.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addRecursive(event.Name)
		}
	}

	w.fp.Invalidate(event.Name)
	w.notifier.FileSystemChanged()

	root := w.fp.AlbumRoot(event.Name, inbox.Path)
	if root == "" {
		return
	}
	w.schedule(root, inbox)
}

// schedule resets the debounce window for an album folder. The timer
// that finally fires consults the session store and enqueues the
// inbox's configured kind at most once.
func (w *Watcher) schedule(root string, inbox *config.InboxFolder) {
	if inbox.Autotag == config.AutotagOff {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.debounce[root]; ok {
		timer.Stop()
	}
	w.debounce[root] = time.AfterFunc(w.cfg.DebounceWindow, func() {
		w.mu.Lock()
		delete(w.debounce, root)
		w.mu.Unlock()
		w.fire(root, inbox)
	})
}

func (w *Watcher) fire(root string, inbox *config.InboxFolder) {
	ctx := context.Background()
	hash, err := w.fp.Hash(root)
	if err != nil {
		log.Printf("Watcher: hashing %s failed: %v", root, err)
		return
	}

	sess, err := w.sessions.SessionByPath(ctx, root)
	switch {
	case apperr.KindOf(err) == apperr.KindNotFound:
		// No session yet: always tag.
	case err != nil:
		log.Printf("Watcher: session lookup for %s failed: %v", root, err)
		return
	case inbox.Autotag == config.AutotagPreview && sess.FolderHash != hash:
		// Content changed since the stored preview: re-tag.
	default:
		return
	}

	log.Printf("Watcher: %s settled, enqueueing %s", root, inbox.Autotag)
	switch inbox.Autotag {
	case config.AutotagPreview:
		_, err = w.enqueue.Preview(ctx, hash, root, "")
	case config.AutotagAuto:
		_, err = w.enqueue.ImportAuto(ctx, hash, root, inbox.AutoThreshold, nil, "")
	case config.AutotagBootleg:
		_, err = w.enqueue.ImportBootleg(ctx, hash, root, "")
	}
	if err != nil {
		log.Printf("Watcher: enqueue for %s failed: %v", root, err)
	}
}

// Rescan schedules a debounced auto-tag for every album folder
// already present under the autotag inboxes, at any depth, so
// Artist/Album trees dropped in whole are found too. It runs once on
// startup, so folders added while the server was down are not missed,
// and periodically from the cron scheduler as a safety net for missed
// events.
func (w *Watcher) Rescan() {
	for i := range w.cfg.Inboxes {
		inbox := &w.cfg.Inboxes[i]
		if inbox.Autotag == config.AutotagOff {
			continue
		}
		walkErr := filepath.WalkDir(inbox.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Printf("Watcher: scanning %s failed: %v", path, err)
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			if path == inbox.Path {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if ok, _ := w.fp.IsAlbumFolder(path); ok {
				if root := w.fp.AlbumRoot(path, inbox.Path); root != "" {
					w.schedule(root, inbox)
				}
				// Disc subfolders resolve to this same root.
				return filepath.SkipDir
			}
			return nil
		})
		if walkErr != nil {
			log.Printf("Watcher: scanning %s failed: %v", inbox.Path, walkErr)
		}
	}
}
