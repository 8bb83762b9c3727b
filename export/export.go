// Package export assembles a fully downloaded chapter's images into CBZ and
// PDF archives. CBZ uses archive/zip in store-only mode (no compression,
// since source images are already compressed); PDF is built on
// github.com/signintech/gopdf, one page per image.
package export

import (
	"archive/zip"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/signintech/gopdf"

	"comicvault/imageproc"
	"comicvault/models"
)

const dpi = 72.0

// WriteError wraps a per-file failure during export.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("export write %s: %v", e.Path, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// CBZ packs chapterDir's images (named in imageFilenames order) into a
// store-only ZIP at outPath, overwriting any existing artifact.
func CBZ(chapterDir string, imageFilenames []string, outPath string) error {
	zf, err := os.Create(outPath)
	if err != nil {
		return &WriteError{Path: outPath, Err: err}
	}
	defer zf.Close()

	zw := zip.NewWriter(zf)
	defer zw.Close()

	for _, name := range imageFilenames {
		if err := addStoredEntry(zw, filepath.Join(chapterDir, name), name); err != nil {
			return &WriteError{Path: name, Err: err}
		}
	}

	return nil
}

func addStoredEntry(zw *zip.Writer, srcPath, entryName string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = entryName
	header.Method = zip.Store

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, f)
	return err
}

// PDF assembles chapterDir's images (in imageFilenames order) into a
// document at outPath, one page per image sized to the image's pixel
// dimensions at 72dpi. JPEG/PNG are embedded verbatim; any other format is
// transcoded to JPEG quality 90 first.
func PDF(chapterDir string, imageFilenames []string, outPath string) error {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: gopdf.Rect{W: 612, H: 792}})

	tmpDir, err := os.MkdirTemp("", "comicvault-pdf-*")
	if err != nil {
		return &WriteError{Path: outPath, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	for _, name := range imageFilenames {
		srcPath := filepath.Join(chapterDir, name)
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return &WriteError{Path: srcPath, Err: err}
		}

		embedPath := srcPath
		format := imageproc.DetectFormat(data)
		if format != imageproc.SourceJPEG && format != imageproc.SourcePNG {
			tmpPath := filepath.Join(tmpDir, name+".jpg")
			if err := imageproc.Write(data, models.FormatJpeg, tmpPath); err != nil {
				return &WriteError{Path: srcPath, Err: err}
			}
			embedPath = tmpPath
		}

		w, h, err := pixelDims(embedPath)
		if err != nil {
			return &WriteError{Path: embedPath, Err: err}
		}

		rect := &gopdf.Rect{W: float64(w) * 72 / dpi, H: float64(h) * 72 / dpi}
		pdf.AddPageWithOption(gopdf.PageOption{PageSize: rect})
		if err := pdf.Image(embedPath, 0, 0, rect); err != nil {
			return &WriteError{Path: embedPath, Err: err}
		}
	}

	if err := pdf.WritePdf(outPath); err != nil {
		return &WriteError{Path: outPath, Err: err}
	}
	return nil
}

func pixelDims(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
