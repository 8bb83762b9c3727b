// Package events implements an in-process, single-producer,
// multiple-consumer broadcast bus. Subscribers are plain Go channels;
// httpapi bridges one subscriber onto a WebSocket transport.
package events

import (
	"sync"

	"comicvault/models"
)

// Kind tags the union of event payloads the bus carries.
type Kind string

const (
	KindDownloadTaskCreate               Kind = "downloadTaskEvent.create"
	KindDownloadTaskUpdate               Kind = "downloadTaskEvent.update"
	KindDownloadSpeed                    Kind = "downloadSpeedEvent"
	KindDownloadSleeping                 Kind = "downloadSleepingEvent"
	KindOverallProgress                  Kind = "updateOverallDownloadProgressEvent"
	KindFavoritesGettingFavorites        Kind = "downloadAllFavoritesEvent.gettingFavorites"
	KindFavoritesGettingComics           Kind = "downloadAllFavoritesEvent.gettingComics"
	KindFavoritesEndGetComics            Kind = "downloadAllFavoritesEvent.endGetComics"
	KindFavoritesStartCreateDownloadTask Kind = "downloadAllFavoritesEvent.startCreateDownloadTasks"
	KindFavoritesCreatingDownloadTask    Kind = "downloadAllFavoritesEvent.creatingDownloadTask"
	KindFavoritesEndCreateDownloadTask   Kind = "downloadAllFavoritesEvent.endCreateDownloadTasks"
)

// Event is the envelope every subscriber receives; Payload's concrete type
// is determined by Kind.
type Event struct {
	Kind    Kind `json:"kind"`
	Payload any  `json:"payload,omitempty"`
}

// DownloadTaskPayload accompanies KindDownloadTaskCreate/Update.
type DownloadTaskPayload struct {
	Task models.DownloadTask `json:"task"`
}

// DownloadSpeedPayload accompanies KindDownloadSpeed.
type DownloadSpeedPayload struct {
	Speed string `json:"speed"`
}

// DownloadSleepingPayload accompanies KindDownloadSleeping.
type DownloadSleepingPayload struct {
	TaskID          string `json:"taskId"`
	RemainingSec    int    `json:"remainingSec"`
}

// OverallProgressPayload accompanies KindOverallProgress.
type OverallProgressPayload struct {
	DownloadedImageCount int     `json:"downloadedImageCount"`
	TotalImageCount      int     `json:"totalImageCount"`
	Percentage           float64 `json:"percentage"`
}

// GettingComicsPayload accompanies KindFavoritesGettingComics.
type GettingComicsPayload struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ComicPayload accompanies the remaining downloadAllFavoritesEvent sub-events.
type ComicPayload struct {
	ComicID string `json:"comicId"`
}

const subscriberBuffer = 256

// Bus is the broadcast hub: one producer (the engine), many consumers
// (the UI collaborator, via httpapi). Subscribers that fall behind have
// individual events dropped rather than blocking the producer.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: map[chan Event]struct{}{}}
}

// Subscribe registers a new consumer channel. Callers must read from it
// until Unsubscribe; the channel is never closed by the bus so a reader
// range loop is not appropriate — use a for-select with a done signal.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a consumer channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish broadcasts ev to every current subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublishTask emits a Create or Update event for one task snapshot.
func (b *Bus) PublishTask(kind Kind, task models.DownloadTask) {
	b.Publish(Event{Kind: kind, Payload: DownloadTaskPayload{Task: task}})
}

// PublishSpeed emits the per-second aggregate throughput event.
func (b *Bus) PublishSpeed(speed string) {
	b.Publish(Event{Kind: KindDownloadSpeed, Payload: DownloadSpeedPayload{Speed: speed}})
}

// PublishSleeping emits a countdown update for a task waiting out its
// configured inter-image/inter-chapter interval.
func (b *Bus) PublishSleeping(taskID string, remainingSec int) {
	b.Publish(Event{Kind: KindDownloadSleeping, Payload: DownloadSleepingPayload{TaskID: taskID, RemainingSec: remainingSec}})
}

// PublishOverallProgress emits the aggregate progress across all
// non-terminal tasks.
func (b *Bus) PublishOverallProgress(downloaded, total int) {
	pct := 0.0
	if total > 0 {
		pct = float64(downloaded) / float64(total) * 100
	}
	b.Publish(Event{Kind: KindOverallProgress, Payload: OverallProgressPayload{
		DownloadedImageCount: downloaded,
		TotalImageCount:      total,
		Percentage:           pct,
	}})
}
