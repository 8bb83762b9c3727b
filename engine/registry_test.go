package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comicvault/models"
)

func TestRegistry_CreateDedupesByComicAndChapter(t *testing.T) {
	r := NewRegistry()
	comic := models.Comic{ID: "c1"}
	chapter := models.Chapter{ChapterID: "ch1"}

	first, existed := r.Create(comic, chapter)
	require.False(t, existed)

	second, existed := r.Create(comic, chapter)
	assert.True(t, existed)
	assert.Equal(t, first.ID, second.ID)

	assert.Len(t, r.List(), 1)
}

func TestRegistry_CreateAllowsDistinctChapters(t *testing.T) {
	r := NewRegistry()
	comic := models.Comic{ID: "c1"}

	a, _ := r.Create(comic, models.Chapter{ChapterID: "ch1"})
	b, _ := r.Create(comic, models.Chapter{ChapterID: "ch2"})

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, r.List(), 2)
}

func TestRegistry_MutateUpdatesInPlaceAndReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	task, _ := r.Create(models.Comic{ID: "c1"}, models.Chapter{ChapterID: "ch1"})

	updated, ok := r.Mutate(task.ID, func(t *models.DownloadTask) {
		t.State = models.TaskDownloading
		t.DownloadedImgCount = 3
	})
	require.True(t, ok)
	assert.Equal(t, models.TaskDownloading, updated.State)
	assert.Equal(t, 3, updated.DownloadedImgCount)

	fetched, ok := r.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, models.TaskDownloading, fetched.State)
}

func TestRegistry_RemoveDropsKeyIndex(t *testing.T) {
	r := NewRegistry()
	comic := models.Comic{ID: "c1"}
	chapter := models.Chapter{ChapterID: "ch1"}

	task, _ := r.Create(comic, chapter)
	r.Remove(task.ID)

	_, ok := r.Get(task.ID)
	assert.False(t, ok)

	// Key is free again: creating the same pair makes a fresh task, not a dedup hit.
	second, existed := r.Create(comic, chapter)
	assert.False(t, existed)
	assert.NotEqual(t, task.ID, second.ID)
}
