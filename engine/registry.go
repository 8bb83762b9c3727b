// Package engine implements the two-level concurrency download scheduler:
// chapter tasks and their image sub-tasks, coordinated pause/resume/cancel,
// and lifecycle/throughput events. All mutable task state lives behind a
// single Registry; every other caller gets immutable snapshots, never
// pointers into it, via short critical sections that hand out copies.
package engine

import (
	"sync"
	"time"

	"comicvault/models"
)

// Registry is the sole owner of mutable DownloadTask state. Readers
// receive value copies (models.DownloadTask is plain data), so holding one
// past a subsequent mutation never observes a half-updated task.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*models.DownloadTask
	byKey map[models.TaskKey]string // (comicId, chapterId) -> task id, enforces single-flight
	seq   int
}

// NewRegistry creates an empty task table.
func NewRegistry() *Registry {
	return &Registry{
		tasks: map[string]*models.DownloadTask{},
		byKey: map[models.TaskKey]string{},
	}
}

// Create returns the existing task for (comic, chapter) if one is already
// tracked, otherwise creates a new Pending task.
func (r *Registry) Create(comic models.Comic, chapter models.Chapter) (models.DownloadTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := models.TaskKey{ComicID: comic.ID, ChapterID: chapter.ChapterID}
	if id, ok := r.byKey[key]; ok {
		return *r.tasks[id], true
	}

	r.seq++
	now := nowFunc()
	task := &models.DownloadTask{
		ID:        generateID(r.seq),
		ComicID:   comic.ID,
		ChapterID: chapter.ChapterID,
		State:     models.TaskPending,
		Comic:     comic,
		Chapter:   chapter,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.tasks[task.ID] = task
	r.byKey[key] = task.ID
	return *task, false
}

// Get returns a snapshot of one task.
func (r *Registry) Get(id string) (models.DownloadTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return models.DownloadTask{}, false
	}
	return *t, true
}

// List returns a snapshot of every tracked task.
func (r *Registry) List() []models.DownloadTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.DownloadTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	return out
}

// Mutate applies fn to the task under the registry lock and returns the
// resulting snapshot. The critical section is fn's body only; fn must not
// block.
func (r *Registry) Mutate(id string, fn func(*models.DownloadTask)) (models.DownloadTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return models.DownloadTask{}, false
	}
	fn(t)
	t.UpdatedAt = nowFunc()
	return *t, true
}

// Remove drops a terminal task from the table and its key index.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return
	}
	delete(r.byKey, t.Key())
	delete(r.tasks, id)
}

// nonTerminalCount counts tasks currently Downloading or Pending, used by
// the throughput ticker's overall-progress aggregate.
func (r *Registry) nonTerminalImageCounts() (downloaded, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.State == models.TaskDownloading || t.State == models.TaskPending || t.State == models.TaskPaused {
			downloaded += t.DownloadedImgCount
			total += t.TotalImgCount
		}
	}
	return downloaded, total
}

// nowFunc is a seam so tests can freeze time; production uses time.Now.
var nowFunc = time.Now
