package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comicvault/config"
	"comicvault/events"
	"comicvault/metadata"
	"comicvault/models"
	"comicvault/upstream"
)

func testService(t *testing.T) (*Service, *config.Store, *metadata.Store) {
	t.Helper()
	downloadDir := t.TempDir()

	cfgStore, err := config.Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	t.Cleanup(func() { cfgStore.Close() })

	cur := models.Default()
	cur.DownloadDir = downloadDir
	require.NoError(t, cfgStore.SaveSync(cur))

	metaStore, err := metadata.Open(downloadDir)
	require.NoError(t, err)
	t.Cleanup(func() { metaStore.Close() })

	client, err := upstream.NewClient(cur)
	require.NoError(t, err)

	bus := events.New()
	svc := New(cfgStore, client, metaStore, nil, bus, filepath.Join(downloadDir, "logs"))
	return svc, cfgStore, metaStore
}

func TestGetConfig_ReturnsPersistedDocument(t *testing.T) {
	svc, _, _ := testService(t)
	cur := svc.GetConfig()
	assert.Equal(t, models.FormatJpeg, cur.DownloadFormat)
}

func TestSaveConfig_UpdatesTokenOnUpstreamClient(t *testing.T) {
	svc, _, _ := testService(t)
	doc := svc.GetConfig()
	doc.Token = "new-token"
	require.NoError(t, svc.SaveConfig(doc))

	assert.Equal(t, "new-token", svc.GetConfig().Token)
}

func TestGetSyncedComic_NoLocalRecordReportsNotDownloaded(t *testing.T) {
	svc, _, _ := testService(t)
	comic := models.Comic{ID: "c1", Title: "Sample", ChapterInfos: []models.Chapter{{ChapterID: "ch1", Order: 1}}}

	synced, err := svc.sync(comic)
	require.NoError(t, err)
	assert.False(t, synced.IsDownloaded)
	assert.Equal(t, "Sample", synced.Title)
}

func TestGetSyncedComic_FoldsInLocalChapterCompleteness(t *testing.T) {
	svc, cfgStore, metaStore := testService(t)
	cur := cfgStore.Get()

	comic := models.Comic{
		ID:    "c1",
		Title: "Sample",
		ChapterInfos: []models.Chapter{
			{ChapterID: "ch1", Order: 1, IsDownloaded: true, ChapterDownloadDir: "1"},
		},
	}
	comicDir := filepath.Join(cur.DownloadDir, "Sample")
	require.NoError(t, metaStore.WriteComicMetadata(comicDir, comic))

	fresh := models.Comic{ID: "c1", Title: "Sample", ChapterInfos: []models.Chapter{{ChapterID: "ch1", Order: 1}}}
	synced, err := svc.sync(fresh)
	require.NoError(t, err)
	assert.True(t, synced.ChapterInfos[0].IsDownloaded)
	assert.True(t, synced.IsDownloaded)
}

func TestShowPathInFileManager_ErrorsWhenMissing(t *testing.T) {
	svc, _, _ := testService(t)
	_, err := svc.ShowPathInFileManager(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestGetLogsDirSize_SumsFileBytes(t *testing.T) {
	svc, _, _ := testService(t)
	// logsDir doesn't exist yet: size is zero, no error.
	size, err := svc.GetLogsDirSize()
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}
