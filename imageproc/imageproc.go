// Package imageproc detects the source format of downloaded image bytes,
// optionally transcodes them to the configured target format, and writes
// the result to disk atomically.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	xwebp "golang.org/x/image/webp"

	"comicvault/models"
)

const (
	jpegQuality = 90
	webpQuality = 90.0
)

// SourceFormat is the detected encoding of the raw bytes handed to Write.
type SourceFormat string

const (
	SourceJPEG    SourceFormat = "jpeg"
	SourcePNG     SourceFormat = "png"
	SourceGIF     SourceFormat = "gif"
	SourceWebP    SourceFormat = "webp"
	SourceUnknown SourceFormat = "unknown"
)

// Extension returns the file extension SourceFormat would naturally use.
func (f SourceFormat) Extension() string {
	switch f {
	case SourceJPEG:
		return "jpg"
	case SourcePNG:
		return "png"
	case SourceGIF:
		return "gif"
	case SourceWebP:
		return "webp"
	default:
		return "bin"
	}
}

// DecodeError is a permanent per-image failure.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "image decode failed: " + e.Reason }

// EncodeError is a permanent per-image failure.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string { return "image encode failed: " + e.Reason }

// DetectFormat reads the magic bytes of data and reports the encoding,
// or SourceUnknown if none of the recognized signatures match.
func DetectFormat(data []byte) SourceFormat {
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return SourceJPEG
	}
	if len(data) >= 4 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return SourcePNG
	}
	if len(data) >= 6 && (string(data[0:6]) == "GIF87a" || string(data[0:6]) == "GIF89a") {
		return SourceGIF
	}
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return SourceWebP
	}
	return SourceUnknown
}

// Extension computes the final on-disk extension for writing data under
// target. For Original it mirrors the detected source format; the engine
// cannot know this extension before the bytes arrive, so resume falls back
// to re-fetching for Original downloads.
func Extension(data []byte, target models.DownloadFormat) string {
	if target == models.FormatOriginal {
		return DetectFormat(data).Extension()
	}
	switch target {
	case models.FormatJpeg:
		return "jpg"
	case models.FormatPng:
		return "png"
	case models.FormatWebp:
		return "webp"
	default:
		return DetectFormat(data).Extension()
	}
}

// Write decodes data if necessary, transcodes it to target, and writes the
// result to path via a temp-file-then-rename, so a crash mid-write never
// leaves a partial file that looks complete.
func Write(data []byte, target models.DownloadFormat, path string) error {
	if len(data) == 0 {
		return &DecodeError{Reason: "empty image data"}
	}

	source := DetectFormat(data)

	passthrough := target == models.FormatOriginal ||
		(target == models.FormatJpeg && source == SourceJPEG) ||
		(target == models.FormatPng && source == SourcePNG) ||
		(target == models.FormatWebp && source == SourceWebP)

	if passthrough {
		return writeAtomic(path, data)
	}

	img, err := decode(data, source)
	if err != nil {
		return err
	}

	encoded, err := encode(img, target)
	if err != nil {
		return err
	}

	return writeAtomic(path, encoded)
}

func decode(data []byte, source SourceFormat) (image.Image, error) {
	reader := bytes.NewReader(data)
	var img image.Image
	var err error

	switch source {
	case SourceJPEG:
		img, err = jpeg.Decode(reader)
	case SourcePNG:
		img, err = png.Decode(reader)
	case SourceGIF:
		img, err = gif.Decode(reader)
	case SourceWebP:
		img, err = xwebp.Decode(reader)
	default:
		return nil, &DecodeError{Reason: "unrecognized source format"}
	}

	if err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	return img, nil
}

func encode(img image.Image, target models.DownloadFormat) ([]byte, error) {
	var buf bytes.Buffer

	switch target {
	case models.FormatJpeg:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
			return nil, &EncodeError{Reason: err.Error()}
		}
	case models.FormatPng:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, &EncodeError{Reason: err.Error()}
		}
	case models.FormatWebp:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: webpQuality}); err != nil {
			return nil, &EncodeError{Reason: err.Error()}
		}
	default:
		return nil, &EncodeError{Reason: fmt.Sprintf("unsupported target format %q", target)}
	}

	return buf.Bytes(), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".img-*.tmp")
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
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
