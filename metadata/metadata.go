// Package metadata owns the sidecar JSON documents that record comic and
// chapter structure on disk: the basis for "already downloaded" detection
// and for the export pipeline. Persistence follows the config package's
// atomic write-temp-then-rename pattern; a per-comic mutex serializes
// concurrent chapter completions within one comic directory.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"comicvault/models"
	"comicvault/pathfmt"
)

const metadataFilename = "metadata.json"

// ChapterMetadata is the chapter sidecar document.
type ChapterMetadata struct {
	ChapterID      string   `json:"chapterId"`
	ChapterTitle   string   `json:"chapterTitle"`
	Order          int      `json:"order"`
	TotalImgCount  int      `json:"totalImgCount"`
	ImageFilenames []string `json:"imageFilenames"`
}

// Store reads and writes comic/chapter metadata under a download root and
// watches that root for external edits that should invalidate the
// in-memory "downloaded comics" index.
type Store struct {
	root string
	log  *logrus.Entry

	comicLocksMu sync.Mutex
	comicLocks   map[string]*sync.Mutex

	indexMu sync.RWMutex
	index   map[string]bool // comicDir -> isDownloaded, invalidated on fs events

	watcher *fsnotify.Watcher
}

// Open creates a Store rooted at downloadRoot and starts watching it for
// external filesystem edits.
func Open(downloadRoot string) (*Store, error) {
	s := &Store{
		root:       downloadRoot,
		log:        logrus.WithField("component", "metadata"),
		comicLocks: map[string]*sync.Mutex{},
		index:      map[string]bool{},
	}

	if err := os.MkdirAll(downloadRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.WithError(err).Warn("fsnotify unavailable, downloaded-index invalidation disabled")
		return s, nil
	}
	if err := watcher.Add(downloadRoot); err != nil {
		s.log.WithError(err).Warn("failed to watch download root")
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher
	go s.watchLoop()

	return s, nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.invalidate(event.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("metadata watcher error")
		}
	}
}

func (s *Store) invalidate(path string) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	for comicDir := range s.index {
		if filepathHasPrefix(path, comicDir) {
			delete(s.index, comicDir)
		}
	}
}

func filepathHasPrefix(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel == "." || (len(rel) > 0 && rel[0] != '.')
}

// Close stops the filesystem watch.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) lockFor(comicDir string) *sync.Mutex {
	s.comicLocksMu.Lock()
	defer s.comicLocksMu.Unlock()
	l, ok := s.comicLocks[comicDir]
	if !ok {
		l = &sync.Mutex{}
		s.comicLocks[comicDir] = l
	}
	return l
}

// WriteComicMetadata persists the full comic document to
// {comicDir}/metadata.json, serialized per comic directory.
func (s *Store) WriteComicMetadata(comicDir string, comic models.Comic) error {
	lock := s.lockFor(comicDir)
	lock.Lock()
	defer lock.Unlock()

	s.indexMu.Lock()
	s.index[comicDir] = comic.IsDownloaded()
	s.indexMu.Unlock()

	return writeJSONAtomic(filepath.Join(comicDir, metadataFilename), comic)
}

// ReadComicMetadata loads {comicDir}/metadata.json.
func (s *Store) ReadComicMetadata(comicDir string) (models.Comic, error) {
	var comic models.Comic
	err := readJSON(filepath.Join(comicDir, metadataFilename), &comic)
	return comic, err
}

// WriteChapterMetadata persists a chapter sidecar, serialized under the
// same per-comic lock as the owning comic's metadata.
func (s *Store) WriteChapterMetadata(comicDir, chapterDir string, meta ChapterMetadata) error {
	lock := s.lockFor(comicDir)
	lock.Lock()
	defer lock.Unlock()
	return writeJSONAtomic(filepath.Join(chapterDir, metadataFilename), meta)
}

// ReadChapterMetadata loads {chapterDir}/metadata.json.
func (s *Store) ReadChapterMetadata(chapterDir string) (ChapterMetadata, error) {
	var meta ChapterMetadata
	err := readJSON(filepath.Join(chapterDir, metadataFilename), &meta)
	return meta, err
}

// IsChapterComplete reports whether chapterDir's sidecar exists, lists
// exactly totalImgCount filenames (when totalImgCount > 0, it must match),
// and every listed file is present with non-zero length on disk.
func (s *Store) IsChapterComplete(chapterDir string) (bool, ChapterMetadata, error) {
	meta, err := s.ReadChapterMetadata(chapterDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, ChapterMetadata{}, nil
		}
		return false, ChapterMetadata{}, err
	}

	if len(meta.ImageFilenames) != meta.TotalImgCount {
		return false, meta, nil
	}

	for _, name := range meta.ImageFilenames {
		info, err := os.Stat(filepath.Join(chapterDir, name))
		if err != nil || info.Size() == 0 {
			return false, meta, nil
		}
	}

	return true, meta, nil
}

// RefreshComicIsDownloaded folds the per-chapter completeness of comic into
// its IsDownloaded derivation and rewrites the comic sidecar; called after
// each chapter completes. Every chapter's on-disk directory is resolved via
// chapterDirNameFmt rather than trusted from ch.ChapterDownloadDir: comic
// usually comes straight from an upstream fetch, where only the
// just-finished chapter has that field populated, and an empty
// ChapterDownloadDir would otherwise collapse filepath.Join(comicDir, "")
// to comicDir itself, reading the comic sidecar as if it were a chapter one.
func (s *Store) RefreshComicIsDownloaded(comicDir string, comic models.Comic, chapterDirNameFmt string) (models.Comic, error) {
	count := len(comic.ChapterInfos)
	for i, ch := range comic.ChapterInfos {
		dirName, err := pathfmt.ChapterDir(chapterDirNameFmt, comic, ch, count)
		if err != nil {
			comic.ChapterInfos[i].IsDownloaded = false
			continue
		}
		comic.ChapterInfos[i].ChapterDownloadDir = dirName
		complete, _, err := s.IsChapterComplete(filepath.Join(comicDir, dirName))
		if err != nil {
			return comic, err
		}
		comic.ChapterInfos[i].IsDownloaded = complete
	}
	comic.ComicDownloadDir = comicDir
	return comic, s.WriteComicMetadata(comicDir, comic)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".metadata-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
