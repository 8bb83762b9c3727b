package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comicvault/models"
)

func TestOpen_CreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, models.Default(), s.Get())
	assert.FileExists(t, path)
}

func TestSaveSync_PersistsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	doc := s.Get()
	doc.DownloadDir = "/tmp/comics"
	doc.ChapterConcurrency = 5
	require.NoError(t, s.SaveSync(doc))

	assert.Equal(t, "/tmp/comics", s.Get().DownloadDir)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk models.Config
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, "/tmp/comics", onDisk.DownloadDir)
	assert.Equal(t, 5, onDisk.ChapterConcurrency)
}

func TestSave_CoalescesWithinQuiescentWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		doc := s.Get()
		doc.ChapterConcurrency = i + 1
		require.NoError(t, s.Save(doc))
	}

	assert.Eventually(t, func() bool {
		return s.Get().ChapterConcurrency == 5
	}, time.Second, 10*time.Millisecond)
}

func TestLoad_PreservesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	seed := map[string]any{
		"downloadDir":        "/tmp/x",
		"chapterConcurrency": 3,
		"imgConcurrency":     10,
		"comicDirNameFmt":    "{comic_title}",
		"chapterDirNameFmt":  "{order}",
		"downloadFormat":     "Jpeg",
		"futureFeatureFlag":  true,
	}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	doc := s.Get()
	doc.ChapterConcurrency = 9
	require.NoError(t, s.SaveSync(doc))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, true, onDisk["futureFeatureFlag"])
	assert.Equal(t, float64(9), onDisk["chapterConcurrency"])
}

func TestWatch_ReceivesCurrentValueImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Watch(ctx)
	select {
	case doc := <-ch:
		assert.Equal(t, models.Default(), doc)
	case <-time.After(time.Second):
		t.Fatal("did not receive initial value")
	}
}

func TestWatch_PublishesOnSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Watch(ctx)
	<-ch // drain initial value

	doc := s.Get()
	doc.ImgConcurrency = 42
	require.NoError(t, s.SaveSync(doc))

	select {
	case updated := <-ch:
		assert.Equal(t, 42, updated.ImgConcurrency)
	case <-time.After(time.Second):
		t.Fatal("did not receive update after save")
	}
}
