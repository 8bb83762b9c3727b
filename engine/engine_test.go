package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"comicvault/config"
	"comicvault/events"
	"comicvault/metadata"
	"comicvault/models"
)

// fakeUpstream implements upstreamClient with canned, in-memory responses
// so engine tests never reach the network.
type fakeUpstream struct {
	comic    models.Comic
	images   []models.ImageRef
	image    []byte
	failPath map[string]bool
}

func (f *fakeUpstream) GetComic(ctx context.Context, id string) (models.Comic, error) {
	return f.comic, nil
}

func (f *fakeUpstream) GetChapterImages(ctx context.Context, comicID string, order int) ([]models.ImageRef, error) {
	return f.images, nil
}

func (f *fakeUpstream) DownloadImage(ctx context.Context, ref models.ImageRef) ([]byte, error) {
	if f.failPath[ref.Path] {
		return nil, &upstreamHTTPError{status: 500}
	}
	return f.image, nil
}

// upstreamHTTPError stands in for a permanent upstream.HttpClientError without
// pulling the upstream package into this test's import graph.
type upstreamHTTPError struct{ status int }

func (e *upstreamHTTPError) Error() string { return "permanent upstream error" }

func (f *fakeUpstream) GetFavorite(ctx context.Context, sort models.FavoriteSort, page int) (models.Page[models.ComicInSearch], error) {
	return models.Page[models.ComicInSearch]{}, nil
}

// trackingUpstream counts DownloadImage calls so resume tests can assert
// that a re-run only re-fetches what's actually missing on disk.
type trackingUpstream struct {
	fakeUpstream
	downloadCalls int
}

func (t *trackingUpstream) DownloadImage(ctx context.Context, ref models.ImageRef) ([]byte, error) {
	t.downloadCalls++
	return t.fakeUpstream.DownloadImage(ctx, ref)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testEngine(t *testing.T, comic models.Comic, images []models.ImageRef) (*Engine, *config.Store) {
	t.Helper()
	downloadDir := t.TempDir()

	cfgPath := filepath.Join(t.TempDir(), "config.json")
	cfgStore, err := config.Open(cfgPath)
	require.NoError(t, err)
	t.Cleanup(func() { cfgStore.Close() })

	cur := models.Default()
	cur.DownloadDir = downloadDir
	cur.ChapterConcurrency = 2
	cur.ImgConcurrency = 2
	require.NoError(t, cfgStore.SaveSync(cur))

	metaStore, err := metadata.Open(downloadDir)
	require.NoError(t, err)
	t.Cleanup(func() { metaStore.Close() })

	bus := events.New()

	return testEngineWithFailures(t, comic, images, nil, cfgStore, metaStore, bus)
}

func testEngineWithFailures(t *testing.T, comic models.Comic, images []models.ImageRef, failPath map[string]bool, cfgStore *config.Store, metaStore *metadata.Store, bus *events.Bus) (*Engine, *config.Store) {
	e := &Engine{
		upstream: &fakeUpstream{comic: comic, images: images, image: pngBytes(t), failPath: failPath},
		meta:     metaStore,
		bus:      bus,
		cfg:      cfgStore,
		registry: NewRegistry(),
		controls: map[string]*taskControl{},
	}
	e.chapterSem = semaphore.NewWeighted(2)
	e.imgSem = semaphore.NewWeighted(2)
	return e, cfgStore
}

func TestEngine_CreateDownloadTask_DownloadsAllImagesAndCompletes(t *testing.T) {
	comic := models.Comic{ID: "c1", Title: "Sample"}
	chapter := models.Chapter{ChapterID: "ch1", ChapterTitle: "One", Order: 1}
	comic.ChapterInfos = []models.Chapter{chapter}
	images := []models.ImageRef{{FileServer: "https://img", Path: "a"}, {FileServer: "https://img", Path: "b"}}

	e, _ := testEngine(t, comic, images)

	task := e.CreateDownloadTask(context.Background(), comic, chapter)
	require.NotEmpty(t, task.ID)

	assert.Eventually(t, func() bool {
		snap, ok := e.registry.Get(task.ID)
		return ok && snap.State == models.TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)

	final, ok := e.registry.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, 2, final.DownloadedImgCount)
	assert.Equal(t, 2, final.TotalImgCount)
}

func TestEngine_CreateDownloadTask_IsIdempotentForSameChapter(t *testing.T) {
	comic := models.Comic{ID: "c1", Title: "Sample"}
	chapter := models.Chapter{ChapterID: "ch1", ChapterTitle: "One", Order: 1}
	comic.ChapterInfos = []models.Chapter{chapter}

	e, _ := testEngine(t, comic, nil)

	first := e.CreateDownloadTask(context.Background(), comic, chapter)
	second := e.CreateDownloadTask(context.Background(), comic, chapter)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, e.registry.List(), 1)
}

func TestEngine_MidChapterImageFailure_SkipsAndMarksFailed(t *testing.T) {
	comic := models.Comic{ID: "c1", Title: "Sample"}
	chapter := models.Chapter{ChapterID: "ch1", ChapterTitle: "One", Order: 1}
	comic.ChapterInfos = []models.Chapter{chapter}

	images := make([]models.ImageRef, 10)
	for i := range images {
		images[i] = models.ImageRef{FileServer: "https://img", Path: fmt.Sprintf("p%d", i+1)}
	}

	downloadDir := t.TempDir()
	cfgStore, err := config.Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	t.Cleanup(func() { cfgStore.Close() })
	cur := models.Default()
	cur.DownloadDir = downloadDir
	cur.ChapterConcurrency = 2
	cur.ImgConcurrency = 2
	require.NoError(t, cfgStore.SaveSync(cur))
	metaStore, err := metadata.Open(downloadDir)
	require.NoError(t, err)
	t.Cleanup(func() { metaStore.Close() })
	bus := events.New()

	e, _ := testEngineWithFailures(t, comic, images, map[string]bool{"p4": true}, cfgStore, metaStore, bus)

	task := e.CreateDownloadTask(context.Background(), comic, chapter)

	assert.Eventually(t, func() bool {
		snap, ok := e.registry.Get(task.ID)
		return ok && snap.State == models.TaskFailed
	}, 2*time.Second, 10*time.Millisecond)

	final, ok := e.registry.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, 9, final.DownloadedImgCount)
	assert.NotEmpty(t, final.Error)

	entries, err := os.ReadDir(filepath.Join(downloadDir, "Sample", "1 - One"))
	require.NoError(t, err)
	count := 0
	for _, e := range entries {
		if e.Name() != "metadata.json" {
			count++
		}
	}
	assert.Equal(t, 9, count)
}

func TestEngine_ResumeAfterInteriorGap_OnlyRefetchesMissingImage(t *testing.T) {
	comic := models.Comic{ID: "c1", Title: "Sample"}
	chapter := models.Chapter{ChapterID: "ch1", ChapterTitle: "One", Order: 1}
	comic.ChapterInfos = []models.Chapter{chapter}

	images := make([]models.ImageRef, 10)
	for i := range images {
		images[i] = models.ImageRef{FileServer: "https://img", Path: fmt.Sprintf("p%d", i+1)}
	}

	downloadDir := t.TempDir()
	cfgStore, err := config.Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	t.Cleanup(func() { cfgStore.Close() })
	cur := models.Default()
	cur.DownloadDir = downloadDir
	cur.ChapterConcurrency = 2
	cur.ImgConcurrency = 2
	require.NoError(t, cfgStore.SaveSync(cur))
	metaStore, err := metadata.Open(downloadDir)
	require.NoError(t, err)
	t.Cleanup(func() { metaStore.Close() })
	bus := events.New()

	e1, _ := testEngineWithFailures(t, comic, images, nil, cfgStore, metaStore, bus)
	task := e1.CreateDownloadTask(context.Background(), comic, chapter)
	assert.Eventually(t, func() bool {
		snap, ok := e1.registry.Get(task.ID)
		return ok && snap.State == models.TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)

	chapterDir := filepath.Join(downloadDir, "Sample", "1 - One")
	entries, err := os.ReadDir(chapterDir)
	require.NoError(t, err)
	var removed string
	for _, entry := range entries {
		if entry.Name() != "metadata.json" {
			removed = entry.Name()
			break
		}
	}
	require.NotEmpty(t, removed)
	require.NoError(t, os.Remove(filepath.Join(chapterDir, removed)))

	tracking := &trackingUpstream{fakeUpstream: fakeUpstream{comic: comic, images: images, image: pngBytes(t)}}
	e2 := &Engine{
		upstream: tracking,
		meta:     metaStore,
		bus:      bus,
		cfg:      cfgStore,
		registry: NewRegistry(),
		controls: map[string]*taskControl{},
	}
	e2.chapterSem = semaphore.NewWeighted(2)
	e2.imgSem = semaphore.NewWeighted(2)

	task2 := e2.CreateDownloadTask(context.Background(), comic, chapter)
	assert.Eventually(t, func() bool {
		snap, ok := e2.registry.Get(task2.ID)
		return ok && snap.State == models.TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, tracking.downloadCalls, "only the deleted image should be re-fetched over the network")

	entries, err = os.ReadDir(chapterDir)
	require.NoError(t, err)
	count := 0
	for _, entry := range entries {
		if entry.Name() != "metadata.json" {
			count++
		}
	}
	assert.Equal(t, 10, count)
}

func TestEngine_CancelTask_MarksCancelled(t *testing.T) {
	comic := models.Comic{ID: "c1", Title: "Sample"}
	chapter := models.Chapter{ChapterID: "ch1", ChapterTitle: "One", Order: 1}
	comic.ChapterInfos = []models.Chapter{chapter}
	images := []models.ImageRef{{FileServer: "https://img", Path: "a"}, {FileServer: "https://img", Path: "b"}, {FileServer: "https://img", Path: "c"}}

	e, _ := testEngine(t, comic, images)

	task := e.CreateDownloadTask(context.Background(), comic, chapter)
	require.NoError(t, e.CancelTask(task.ID))

	snap, ok := e.registry.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, models.TaskCancelled, snap.State)
}
