// Package config persists and hot-reloads the single settings document.
// Saves are atomic (write-temp-then-rename) and coalesced to last-writer-wins
// within a quiescent window; external edits to the on-disk file are picked
// up via fsnotify and republished to observers (the engine's rate-limit
// parameters) without requiring a restart.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"comicvault/models"
)

// quiescentWindow is the minimum delay between a save request landing and
// it actually hitting disk, so a burst of saves within the window coalesces
// to a single write of the last value.
const quiescentWindow = 100 * time.Millisecond

// Error is surfaced to callers on a failed Save; the in-memory document is
// rolled back to its pre-save value so Get never returns a document that
// doesn't match what's on disk.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Store owns the on-disk settings document and its in-memory cache.
type Store struct {
	path string
	log  *logrus.Entry

	mu  sync.RWMutex
	doc models.Config
	raw map[string]json.RawMessage // unknown fields preserved verbatim across rewrites

	saveMu      sync.Mutex
	pendingDoc  *models.Config
	pendingTick *time.Timer

	watcher *fsnotify.Watcher

	subMu sync.Mutex
	subs  []chan models.Config
}

// Dir returns the OS-conventional per-user application directory for
// comicvault, creating it if necessary.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "comicvault")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open loads the config document at path, creating it with defaults if it
// does not exist, and starts the fsnotify watch that backs Watch.
func Open(path string) (*Store, error) {
	log := logrus.WithField("component", "config")

	s := &Store{path: path, log: log}

	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, &Error{Op: "load", Path: path, Err: err}
		}
		log.WithField("path", path).Info("no config file found, writing defaults")
		s.doc = models.Default()
		s.raw = map[string]json.RawMessage{}
		if err := s.writeLocked(); err != nil {
			return nil, &Error{Op: "init", Path: path, Err: err}
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("fsnotify unavailable, external edits will not hot-reload")
	} else if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.WithError(err).Warn("failed to watch config directory")
		watcher.Close()
	} else {
		s.watcher = watcher
		go s.watchLoop()
	}

	return s, nil
}

// load reads and unmarshals the document, splitting recognized fields from
// unrecognized ones so the latter survive a future rewrite untouched.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var doc models.Config
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal config raw: %w", err)
	}
	for _, known := range knownFields {
		delete(raw, known)
	}

	s.mu.Lock()
	s.doc = doc
	s.raw = raw
	s.mu.Unlock()
	return nil
}

// knownFields enumerates the JSON keys models.Config recognizes, so load can
// strip them from the unknown-fields side channel before merging it back in
// on the next write.
var knownFields = []string{
	"token", "downloadDir", "comicDirNameFmt", "chapterDirNameFmt",
	"downloadFormat", "chapterConcurrency", "imgConcurrency",
	"chapterDownloadIntervalSec", "imgDownloadIntervalSec",
	"downloadAllFavoritesIntervalSec", "proxy",
}

// Get returns the current document. It never fails after the first load.
func (s *Store) Get() models.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Save queues doc for persistence. Saves within quiescentWindow of each
// other coalesce to a single write of the last value.
func (s *Store) Save(doc models.Config) error {
	s.saveMu.Lock()
	s.pendingDoc = &doc
	if s.pendingTick == nil {
		s.pendingTick = time.AfterFunc(quiescentWindow, s.flush)
	} else {
		s.pendingTick.Reset(quiescentWindow)
	}
	s.saveMu.Unlock()
	return nil
}

// SaveSync persists doc immediately, bypassing coalescing, and returns the
// write error (if any) synchronously. Used by the saveConfig command
// handler so the UI learns of a failure right away.
func (s *Store) SaveSync(doc models.Config) error {
	s.mu.Lock()
	prev := s.doc
	s.doc = doc
	err := s.writeLocked()
	if err != nil {
		s.doc = prev
	}
	s.mu.Unlock()

	if err != nil {
		return &Error{Op: "save", Path: s.path, Err: err}
	}
	s.publish(doc)
	return nil
}

func (s *Store) flush() {
	s.saveMu.Lock()
	doc := s.pendingDoc
	s.pendingDoc = nil
	s.saveMu.Unlock()
	if doc == nil {
		return
	}
	if err := s.SaveSync(*doc); err != nil {
		s.log.WithError(err).Error("coalesced config save failed")
	}
}

// writeLocked serializes s.doc merged with preserved unknown fields and
// writes it atomically (write-temp-then-rename). Caller must hold s.mu.
func (s *Store) writeLocked() error {
	merged := map[string]json.RawMessage{}
	for k, v := range s.raw {
		merged[k] = v
	}

	known, err := json.Marshal(s.doc)
	if err != nil {
		return err
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return err
	}
	for k, v := range knownMap {
		merged[k] = v
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
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
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Watch returns a channel that receives the current document immediately
// and again every time it changes, whether via Save/SaveSync or an external
// edit detected by fsnotify. The channel is closed when ctx is done.
func (s *Store) Watch(ctx context.Context) <-chan models.Config {
	ch := make(chan models.Config, 1)
	ch <- s.Get()

	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

func (s *Store) publish(doc models.Config) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- doc:
		default:
			// Slow subscriber: drop this update rather than block the saver.
		}
	}
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.load(); err != nil {
				s.log.WithError(err).Warn("failed to reload config after external edit")
				continue
			}
			s.log.Info("reloaded config after external edit")
			s.publish(s.Get())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("config watcher error")
		}
	}
}

// Close stops the fsnotify watch.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
