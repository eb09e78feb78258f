package fingerprint

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/config"
)

var archiveExtensions = map[string]bool{
	".zip": true, ".rar": true, ".7z": true,
}

// Fingerprinter derives stable content hashes for album folders and
// classifies folders as albums.
type Fingerprinter struct {
	audioExt map[string]bool
	discRe   *regexp.Regexp
	cache    *hashCache
}

func New(cfg *config.Config) (*Fingerprinter, error) {
	discRe, err := regexp.Compile(cfg.DiscFolderRegex)
	if err != nil {
		return nil, apperr.Configuration("bad disc folder regex %q: %v", cfg.DiscFolderRegex, err)
	}
	audioExt := make(map[string]bool, len(cfg.AudioExtensions))
	for _, ext := range cfg.AudioExtensions {
		audioExt[strings.ToLower(ext)] = true
	}
	return &Fingerprinter{
		audioExt: audioExt,
		discRe:   discRe,
		cache:    newHashCache(cfg.HashCacheSize),
	}, nil
}

// IsAudioFile reports whether name has a configured audio extension.
// Dotfiles are never audio files.
func (f *Fingerprinter) IsAudioFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return f.audioExt[strings.ToLower(filepath.Ext(base))]
}

// Hash returns the content hash for the folder (or archive) at path.
// The hash covers the sorted (relative path, size) pairs of all audio
// files under the root, so it is stable across rescans of unchanged
// content and changes on any media add/remove/rename.
func (f *Fingerprinter) Hash(path string) (string, error) {
	if h, ok := f.cache.get(path); ok {
		return h, nil
	}
	entries, err := f.listEntries(path)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	d := xxhash.New()
	for _, e := range entries {
		fmt.Fprintf(d, "%s\x00%d\x00", e.rel, e.size)
	}
	h := fmt.Sprintf("%016x", d.Sum64())
	f.cache.put(path, h)
	return h, nil
}

// Invalidate drops any cached hash covering path or a parent of path.
func (f *Fingerprinter) Invalidate(path string) {
	f.cache.invalidate(path)
}

type entry struct {
	rel  string
	size int64
}

func (f *Fingerprinter) listEntries(path string) ([]entry, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, apperr.NotFound("folder %s does not exist", path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		if strings.EqualFold(filepath.Ext(path), ".zip") {
			return f.listZipEntries(path)
		}
		// rar/7z: no central-directory reader available, the archive
		// itself is the single entry.
		return []entry{{rel: filepath.Base(path), size: info.Size()}}, nil
	}

	var entries []entry
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		base := filepath.Base(p)
		if fi.IsDir() {
			if p != path && strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !f.IsAudioFile(base) {
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		entries = append(entries, entry{rel: rel, size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	return entries, nil
}

func (f *Fingerprinter) listZipEntries(path string) ([]entry, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer r.Close()

	var entries []entry
	for _, zf := range r.File {
		name := filepath.FromSlash(zf.Name)
		if !f.IsAudioFile(name) {
			continue
		}
		entries = append(entries, entry{rel: name, size: int64(zf.UncompressedSize64)})
	}
	return entries, nil
}

// IsAlbumFolder reports whether path holds one album: either it
// contains audio files directly, or every subdirectory is a disc
// folder (CD1, Disc 2, ...) that itself contains audio. A disc parent
// collapses to a single album covering all discs.
func (f *Fingerprinter) IsAlbumFolder(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, apperr.NotFound("folder %s does not exist", path)
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return archiveExtensions[strings.ToLower(filepath.Ext(path))], nil
	}

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}

	var subdirs []string
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if de.IsDir() {
			subdirs = append(subdirs, name)
			continue
		}
		if f.IsAudioFile(name) {
			return true, nil
		}
	}

	// No direct audio: album iff there are disc subdirs and each holds audio.
	if len(subdirs) == 0 {
		return false, nil
	}
	for _, sub := range subdirs {
		if !f.discRe.MatchString(sub) {
			return false, nil
		}
		ok, err := f.hasDirectAudio(filepath.Join(path, sub))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (f *Fingerprinter) hasDirectAudio(dir string) (bool, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, de := range dirEntries {
		if !de.IsDir() && f.IsAudioFile(de.Name()) {
			return true, nil
		}
	}
	return false, nil
}

// AlbumRoot walks upward from path until it finds the album folder
// containing it, stopping at stop (exclusive). Returns "" if no parent
// classifies as an album.
func (f *Fingerprinter) AlbumRoot(path, stop string) string {
	stop = filepath.Clean(stop)
	dir := filepath.Clean(path)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		dir = filepath.Dir(dir)
	}
	for dir != stop && dir != "/" && dir != "." {
		// A disc subfolder belongs to its parent's album.
		if f.discRe.MatchString(filepath.Base(dir)) {
			dir = filepath.Dir(dir)
			continue
		}
		if ok, _ := f.IsAlbumFolder(dir); ok {
			return dir
		}
		dir = filepath.Dir(dir)
	}
	return ""
}

// AudioFiles lists the absolute paths of all audio files under root in
// lexical order, descending into disc subfolders.
func (f *Fingerprinter) AudioFiles(root string) ([]string, error) {
	entries, err := f.listEntries(root)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(root, e.rel))
	}
	return paths, nil
}
