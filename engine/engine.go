// Package engine schedules chapter and image downloads under a two-level
// concurrency model: a chapter-level semaphore nested around a shared
// image-level semaphore, built on golang.org/x/sync/semaphore for bounded
// fan-out at both levels.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"comicvault/config"
	"comicvault/events"
	"comicvault/imageproc"
	"comicvault/metadata"
	"comicvault/models"
	"comicvault/pathfmt"
	"comicvault/upstream"
)

// upstreamClient is the subset of *upstream.Client the engine depends on,
// narrowed to an interface so tests can substitute a fake.
type upstreamClient interface {
	GetComic(ctx context.Context, id string) (models.Comic, error)
	GetChapterImages(ctx context.Context, comicID string, order int) ([]models.ImageRef, error)
	DownloadImage(ctx context.Context, ref models.ImageRef) ([]byte, error)
	GetFavorite(ctx context.Context, sort models.FavoriteSort, page int) (models.Page[models.ComicInSearch], error)
}

// metadataStore is the subset of *metadata.Store the engine depends on.
type metadataStore interface {
	WriteChapterMetadata(comicDir, chapterDir string, meta metadata.ChapterMetadata) error
	ReadChapterMetadata(chapterDir string) (metadata.ChapterMetadata, error)
	IsChapterComplete(chapterDir string) (bool, metadata.ChapterMetadata, error)
	RefreshComicIsDownloaded(comicDir string, comic models.Comic, chapterDirNameFmt string) (models.Comic, error)
	WriteComicMetadata(comicDir string, comic models.Comic) error
}

var _ upstreamClient = (*upstream.Client)(nil)
var _ metadataStore = (*metadata.Store)(nil)

// Engine owns the task registry and the two semaphores that bound chapter
// and image concurrency. One Engine serves the whole process.
type Engine struct {
	upstream upstreamClient
	meta     metadataStore
	bus      *events.Bus
	cfg      *config.Store
	registry *Registry

	semMu      sync.RWMutex
	chapterSem *semaphore.Weighted
	imgSem     *semaphore.Weighted

	controlMu sync.Mutex
	controls  map[string]*taskControl

	bytesThisTick int64 // atomic, reset each throughput tick
}

// New builds an Engine sized from cfgStore's current concurrency settings.
// Call Run to start the background config-watch and throughput-telemetry
// loops.
func New(cfgStore *config.Store, client *upstream.Client, metaStore *metadata.Store, bus *events.Bus) *Engine {
	cur := cfgStore.Get()
	return &Engine{
		upstream:   client,
		meta:       metaStore,
		bus:        bus,
		cfg:        cfgStore,
		registry:   NewRegistry(),
		chapterSem: semaphore.NewWeighted(weightOrOne(cur.ChapterConcurrency)),
		imgSem:     semaphore.NewWeighted(weightOrOne(cur.ImgConcurrency)),
		controls:   map[string]*taskControl{},
	}
}

func weightOrOne(n int) int64 {
	if n < 1 {
		return 1
	}
	return int64(n)
}

// Run starts the config hot-reload watcher and the 1-second throughput
// ticker; it blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	go e.watchConfig(ctx)
	e.runThroughputTicker(ctx)
}

// watchConfig rebuilds the semaphores when concurrency settings change.
// Permits already held against the old semaphore are unaffected; only new
// acquires observe the new weight.
func (e *Engine) watchConfig(ctx context.Context) {
	ch := e.cfg.Watch(ctx)
	var lastChapter, lastImg int
	first := true
	for cur := range ch {
		if first || cur.ChapterConcurrency != lastChapter {
			e.semMu.Lock()
			e.chapterSem = semaphore.NewWeighted(weightOrOne(cur.ChapterConcurrency))
			e.semMu.Unlock()
		}
		if first || cur.ImgConcurrency != lastImg {
			e.semMu.Lock()
			e.imgSem = semaphore.NewWeighted(weightOrOne(cur.ImgConcurrency))
			e.semMu.Unlock()
		}
		lastChapter, lastImg = cur.ChapterConcurrency, cur.ImgConcurrency
		first = false
	}
}

func (e *Engine) chapterSemaphore() *semaphore.Weighted {
	e.semMu.RLock()
	defer e.semMu.RUnlock()
	return e.chapterSem
}

func (e *Engine) imgSemaphore() *semaphore.Weighted {
	e.semMu.RLock()
	defer e.semMu.RUnlock()
	return e.imgSem
}

func (e *Engine) Registry() *Registry { return e.registry }

// CreateDownloadTask registers (and, unless already running, starts) a
// download of one chapter. Calling it twice for the same comic/chapter is a
// no-op that returns the existing task.
func (e *Engine) CreateDownloadTask(ctx context.Context, comic models.Comic, chapter models.Chapter) models.DownloadTask {
	task, existed := e.registry.Create(comic, chapter)
	if !existed {
		e.bus.PublishTask(events.KindDownloadTaskCreate, task)
		e.start(task.ID)
	}
	return task
}

// DownloadComic fetches the comic's full chapter list and creates a
// download task for every chapter not already marked downloaded.
func (e *Engine) DownloadComic(ctx context.Context, comicID string) ([]models.DownloadTask, error) {
	comic, err := e.upstream.GetComic(ctx, comicID)
	if err != nil {
		return nil, err
	}

	var tasks []models.DownloadTask
	for _, ch := range comic.ChapterInfos {
		if ch.IsDownloaded {
			continue
		}
		tasks = append(tasks, e.CreateDownloadTask(ctx, comic, ch))
	}
	return tasks, nil
}

// DownloadAllFavorites walks every page of the user's favorites, creating
// download tasks for each comic's outstanding chapters, emitting progress
// events at each phase so the UI can render a favorites-sync progress bar.
func (e *Engine) DownloadAllFavorites(ctx context.Context) error {
	e.bus.Publish(events.Event{Kind: events.KindFavoritesGettingFavorites})

	var favorites []models.ComicInSearch
	for page := 1; ; page++ {
		pg, err := e.upstream.GetFavorite(ctx, models.FavoriteTimeNewest, page)
		if err != nil {
			return err
		}
		favorites = append(favorites, pg.Items...)
		if !pg.HasMore {
			break
		}
	}

	comics := make([]models.Comic, 0, len(favorites))
	for i, fav := range favorites {
		e.bus.Publish(events.Event{Kind: events.KindFavoritesGettingComics, Payload: events.GettingComicsPayload{Current: i + 1, Total: len(favorites)}})
		comic, err := e.upstream.GetComic(ctx, fav.ID)
		if err != nil {
			continue
		}
		comics = append(comics, comic)
	}
	e.bus.Publish(events.Event{Kind: events.KindFavoritesEndGetComics})

	cur := e.cfg.Get()
	e.bus.Publish(events.Event{Kind: events.KindFavoritesStartCreateDownloadTask})
	for i, comic := range comics {
		e.bus.Publish(events.Event{Kind: events.KindFavoritesCreatingDownloadTask, Payload: events.ComicPayload{ComicID: comic.ID}})
		for _, ch := range comic.ChapterInfos {
			if !ch.IsDownloaded {
				e.CreateDownloadTask(ctx, comic, ch)
			}
		}
		if cur.DownloadAllFavoritesIntervalSec > 0 && i < len(comics)-1 {
			if err := sleepCtx(ctx, cur.DownloadAllFavoritesIntervalSec); err != nil {
				return err
			}
		}
	}
	e.bus.Publish(events.Event{Kind: events.KindFavoritesEndCreateDownloadTask})

	return nil
}

// sleepCtx waits out seconds or returns early with ctx.Err() if ctx is
// cancelled first.
func sleepCtx(ctx context.Context, seconds float64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return nil
	}
}

// PauseTask suspends a Downloading task at its next suspension point.
func (e *Engine) PauseTask(taskID string) error {
	task, ok := e.registry.Mutate(taskID, func(t *models.DownloadTask) {
		if t.State == models.TaskDownloading {
			t.State = models.TaskPaused
		}
	})
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.State == models.TaskPaused {
		if ctl := e.controlFor(taskID); ctl != nil {
			ctl.pause()
		}
		e.bus.PublishTask(events.KindDownloadTaskUpdate, task)
	}
	return nil
}

// ResumeTask un-suspends a Paused task.
func (e *Engine) ResumeTask(taskID string) error {
	task, ok := e.registry.Mutate(taskID, func(t *models.DownloadTask) {
		if t.State == models.TaskPaused {
			t.State = models.TaskDownloading
		}
	})
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.State == models.TaskDownloading {
		if ctl := e.controlFor(taskID); ctl != nil {
			ctl.resume()
		}
		e.bus.PublishTask(events.KindDownloadTaskUpdate, task)
	}
	return nil
}

// CancelTask stops a task permanently; it may be restarted later only via a
// fresh CreateDownloadTask, which allocates a new task id.
func (e *Engine) CancelTask(taskID string) error {
	task, ok := e.registry.Mutate(taskID, func(t *models.DownloadTask) {
		t.State = models.TaskCancelled
	})
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	if ctl := e.controlFor(taskID); ctl != nil {
		ctl.cancel()
		ctl.resume() // wake a paused waiter so it observes the cancellation
	}
	e.bus.PublishTask(events.KindDownloadTaskUpdate, task)
	return nil
}

func (e *Engine) controlFor(taskID string) *taskControl {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()
	return e.controls[taskID]
}

func (e *Engine) start(taskID string) {
	ctl := newTaskControl(context.Background())
	e.controlMu.Lock()
	e.controls[taskID] = ctl
	e.controlMu.Unlock()

	go e.runTask(ctl, taskID)
}

// runTask drives one chapter's full download lifecycle: acquire the
// chapter permit, resolve paths, resume from whatever images already exist
// on disk, download the rest under the image semaphore, then finalize
// metadata and transition to a terminal state.
func (e *Engine) runTask(ctl *taskControl, taskID string) {
	defer func() {
		e.controlMu.Lock()
		delete(e.controls, taskID)
		e.controlMu.Unlock()
	}()

	task, ok := e.registry.Get(taskID)
	if !ok {
		return
	}

	if err := e.chapterSemaphore().Acquire(ctl.ctx, 1); err != nil {
		e.fail(taskID, err)
		return
	}
	defer e.chapterSemaphore().Release(1)

	cur := e.cfg.Get()

	task, _ = e.registry.Mutate(taskID, func(t *models.DownloadTask) { t.State = models.TaskDownloading })
	e.bus.PublishTask(events.KindDownloadTaskUpdate, task)

	comicDirName, err := pathfmt.ComicDir(cur.ComicDirNameFmt, task.Comic)
	if err != nil {
		e.fail(taskID, err)
		return
	}
	chapterDirName, err := pathfmt.ChapterDir(cur.ChapterDirNameFmt, task.Comic, task.Chapter, len(task.Comic.ChapterInfos))
	if err != nil {
		e.fail(taskID, err)
		return
	}
	comicDir := filepath.Join(cur.DownloadDir, comicDirName)
	chapterDir := filepath.Join(comicDir, chapterDirName)
	if err := os.MkdirAll(chapterDir, 0o755); err != nil {
		e.fail(taskID, err)
		return
	}

	images, err := e.upstream.GetChapterImages(ctl.ctx, task.ComicID, task.Chapter.Order)
	if err != nil {
		e.fail(taskID, err)
		return
	}

	task, _ = e.registry.Mutate(taskID, func(t *models.DownloadTask) { t.TotalImgCount = len(images) })

	existing, existingMeta, _ := e.meta.IsChapterComplete(chapterDir)
	filenames := make([]string, len(images))
	startAt := 0
	if !existing && len(existingMeta.ImageFilenames) > 0 {
		// Partial sidecar from a prior interrupted run: trust only the
		// prefix whose files are actually present and non-empty on disk.
		for i, name := range existingMeta.ImageFilenames {
			if i >= len(filenames) {
				break
			}
			if info, statErr := os.Stat(filepath.Join(chapterDir, name)); statErr == nil && info.Size() > 0 {
				filenames[i] = name
				startAt = i + 1
				continue
			}
			break
		}
	}
	if existing {
		startAt = len(images)
		copy(filenames, existingMeta.ImageFilenames)
	}

	task, _ = e.registry.Mutate(taskID, func(t *models.DownloadTask) { t.DownloadedImgCount = startAt })
	e.bus.PublishTask(events.KindDownloadTaskUpdate, task)

	// A permanent per-image failure does not abort the chapter: every other
	// image is still attempted, and the chapter is marked Failed only once
	// the whole pass has run its course.
	downloaded := startAt
	var firstErr error
	for i := startAt; i < len(images); i++ {
		if err := ctl.waitIfPaused(); err != nil {
			e.finishInterrupted(taskID, err)
			return
		}

		if err := e.imgSemaphore().Acquire(ctl.ctx, 1); err != nil {
			e.finishInterrupted(taskID, err)
			return
		}
		name, size, err := e.downloadOneImage(ctl.ctx, cur, images[i], i, len(images), chapterDir)
		e.imgSemaphore().Release(1)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		filenames[i] = name
		downloaded++

		task, _ = e.registry.Mutate(taskID, func(t *models.DownloadTask) { t.DownloadedImgCount = downloaded })
		e.bus.PublishTask(events.KindDownloadTaskUpdate, task)
		atomic.AddInt64(&e.bytesThisTick, size)

		if cur.ImgDownloadIntervalSec > 0 && i < len(images)-1 {
			if err := e.sleepInterruptible(ctl, taskID, cur.ImgDownloadIntervalSec); err != nil {
				e.finishInterrupted(taskID, err)
				return
			}
		}
	}

	present := make([]string, 0, len(filenames))
	for _, name := range filenames {
		if name != "" {
			present = append(present, name)
		}
	}
	if err := e.meta.WriteChapterMetadata(comicDir, chapterDir, metadata.ChapterMetadata{
		ChapterID:      task.Chapter.ChapterID,
		ChapterTitle:   task.Chapter.ChapterTitle,
		Order:          task.Chapter.Order,
		TotalImgCount:  len(images),
		ImageFilenames: present,
	}); err != nil {
		e.fail(taskID, err)
		return
	}

	if firstErr != nil {
		e.fail(taskID, firstErr)
		return
	}

	task.Chapter.IsDownloaded = true
	task.Chapter.ChapterDownloadDir = chapterDirName

	// Clone before mutating: task.Comic.ChapterInfos shares a backing array
	// with every sibling task's Comic for the same title (all created from
	// one GetComic call), so writing in place would race against concurrent
	// chapters of the same comic finishing at the same time.
	comicForMeta := task.Comic
	comicForMeta.ChapterInfos = append([]models.Chapter(nil), task.Comic.ChapterInfos...)
	for i, ch := range comicForMeta.ChapterInfos {
		if ch.ChapterID == task.Chapter.ChapterID {
			comicForMeta.ChapterInfos[i] = task.Chapter
		}
	}
	if _, err := e.meta.RefreshComicIsDownloaded(comicDir, comicForMeta, cur.ChapterDirNameFmt); err != nil {
		e.fail(taskID, err)
		return
	}

	task, _ = e.registry.Mutate(taskID, func(t *models.DownloadTask) { t.State = models.TaskCompleted })
	e.bus.PublishTask(events.KindDownloadTaskUpdate, task)
}

// downloadOneImage fetches, transcodes, and writes a single image,
// retrying the whole decode/encode/write step once on a transient I/O
// error before surfacing it as permanent.
// Original passes through the source format, whose extension is only
// known once the bytes are in hand, so a gap under that format always
// re-fetches. Every other target has a fixed extension, so an interior
// gap (a deleted file mid-chapter, not just a trailing one) can still
// skip the network round-trip when the file is already present.
func (e *Engine) downloadOneImage(ctx context.Context, cfg models.Config, ref models.ImageRef, i, total int, chapterDir string) (string, int64, error) {
	if cfg.DownloadFormat != models.FormatOriginal {
		ext := imageproc.Extension(nil, cfg.DownloadFormat)
		name := pathfmt.ImageFilename(i, total, ext)
		if info, err := os.Stat(filepath.Join(chapterDir, name)); err == nil && info.Size() > 0 {
			return name, info.Size(), nil
		}
	}

	data, err := e.upstream.DownloadImage(ctx, ref)
	if err != nil {
		return "", 0, err
	}

	ext := imageproc.Extension(data, cfg.DownloadFormat)
	name := pathfmt.ImageFilename(i, total, ext)
	path := filepath.Join(chapterDir, name)

	writeErr := imageproc.Write(data, cfg.DownloadFormat, path)
	if writeErr != nil {
		writeErr = imageproc.Write(data, cfg.DownloadFormat, path)
	}
	if writeErr != nil {
		return "", 0, writeErr
	}

	written := int64(len(data))
	if info, statErr := os.Stat(path); statErr == nil {
		written = info.Size()
	}
	return name, written, nil
}

// sleepInterruptible waits out the configured inter-image delay, publishing
// a countdown and returning early on pause/cancel.
func (e *Engine) sleepInterruptible(ctl *taskControl, taskID string, seconds float64) error {
	remaining := int(seconds)
	if remaining < 1 {
		remaining = 1
	}
	for remaining > 0 {
		e.bus.PublishSleeping(taskID, remaining)
		select {
		case <-ctl.ctx.Done():
			return ctl.ctx.Err()
		case <-time.After(time.Second):
		}
		if err := ctl.waitIfPaused(); err != nil {
			return err
		}
		remaining--
	}
	return nil
}

func (e *Engine) fail(taskID string, err error) {
	task, ok := e.registry.Mutate(taskID, func(t *models.DownloadTask) {
		t.State = models.TaskFailed
		t.Error = err.Error()
	})
	if ok {
		e.bus.PublishTask(events.KindDownloadTaskUpdate, task)
	}
}

// finishInterrupted reflects a pause/cancel-triggered context error back
// into task state without treating it as a failure: cancellation already
// set TaskCancelled via CancelTask, pause already set TaskPaused via
// PauseTask, so this is a no-op unless the state doesn't already reflect
// the interruption (e.g. Run's own ctx was cancelled at shutdown).
func (e *Engine) finishInterrupted(taskID string, err error) {
	task, ok := e.registry.Get(taskID)
	if !ok {
		return
	}
	if task.State == models.TaskCancelled || task.State == models.TaskPaused {
		return
	}
	e.fail(taskID, err)
}
