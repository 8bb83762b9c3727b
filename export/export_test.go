package export

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBZ_StoresEntriesUncompressedInOrder(t *testing.T) {
	chapterDir := t.TempDir()
	names := []string{"001.jpg", "002.jpg", "003.jpg"}
	contents := map[string][]byte{
		"001.jpg": bytes.Repeat([]byte{0xAA}, 512),
		"002.jpg": bytes.Repeat([]byte{0xBB}, 512),
		"003.jpg": bytes.Repeat([]byte{0xCC}, 512),
	}
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(chapterDir, name), contents[name], 0o644))
	}

	outPath := filepath.Join(t.TempDir(), "ch.cbz")
	require.NoError(t, CBZ(chapterDir, names, outPath))

	r, err := zip.OpenReader(outPath)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.File, 3)
	for i, f := range r.File {
		assert.Equal(t, names[i], f.Name)
		assert.Equal(t, zip.Store, f.Method)

		rc, err := f.Open()
		require.NoError(t, err)
		data := make([]byte, f.UncompressedSize64)
		_, err = rc.Read(data)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, contents[names[i]], data)
	}
}

func TestPDF_EmbedsPagesSizedToImageDimensions(t *testing.T) {
	chapterDir := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 100, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(chapterDir, "001.png"), buf.Bytes(), 0o644))

	outPath := filepath.Join(t.TempDir(), "ch.pdf")
	require.NoError(t, PDF(chapterDir, []string{"001.png"}, outPath))

	info, err := os.Stat(outPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
