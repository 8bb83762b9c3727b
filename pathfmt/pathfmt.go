// Package pathfmt computes comic and chapter directory names from a
// user-supplied format template, with field substitution and filesystem
// sanitisation.
package pathfmt

import (
	"fmt"
	"strings"

	"comicvault/models"
)

// invalidChars are the characters forbidden in a Windows/POSIX-portable
// filesystem segment; each maps to its full-width Unicode lookalike so the
// substitution stays legible instead of collapsing to underscores.
var invalidChars = map[rune]rune{
	'\\': '＼',
	'/':  '／',
	':':  '：',
	'*':  '＊',
	'?':  '？',
	'"':  '＂',
	'<':  '＜',
	'>':  '＞',
	'|':  '｜',
}

// Error reports a template that could not be resolved to a valid single
// path segment.
type Error struct {
	Template string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid path template %q: %s", e.Template, e.Reason)
}

// digitsFor returns how many digits are needed to render every order value
// from 1..count with consistent zero-padding, so the resulting directory
// names sort lexicographically the same as numerically.
func digitsFor(count int) int {
	if count < 1 {
		count = 1
	}
	digits := 1
	for n := count; n >= 10; n /= 10 {
		digits++
	}
	return digits
}

// ComicDir renders comicDirNameFmt against a comic, producing exactly one
// sanitised path segment.
func ComicDir(tmpl string, comic models.Comic) (string, error) {
	fields := map[string]string{
		"{comic_id}":    comic.ID,
		"{comic_title}": comic.Title,
		"{author}":      comic.Author,
	}
	return render(tmpl, fields)
}

// ChapterDir renders chapterDirNameFmt against a chapter, zero-padding
// {order} wide enough to sort every chapter of chapterCount in the comic.
func ChapterDir(tmpl string, comic models.Comic, chapter models.Chapter, chapterCount int) (string, error) {
	width := digitsFor(chapterCount)
	fields := map[string]string{
		"{comic_id}":     comic.ID,
		"{comic_title}":  comic.Title,
		"{author}":       comic.Author,
		"{chapter_id}":   chapter.ChapterID,
		"{chapter_title}": chapter.ChapterTitle,
		"{order}":        fmt.Sprintf("%0*d", width, chapter.Order),
	}
	return render(tmpl, fields)
}

func render(tmpl string, fields map[string]string) (string, error) {
	// Field substitution can never introduce a raw separator (sanitize maps
	// it to a full-width lookalike), so a template authored with a literal
	// slash is the only way to violate "exactly one path segment" - check
	// that structural property before substitution, not after.
	if strings.ContainsAny(tmpl, "/\\") {
		return "", &Error{Template: tmpl, Reason: "must resolve to exactly one path segment"}
	}

	out := tmpl
	for token, value := range fields {
		out = strings.ReplaceAll(out, token, value)
	}

	out = sanitize(out)
	out = strings.TrimRight(out, " .")

	if out == "" {
		return "", &Error{Template: tmpl, Reason: "resolves to an empty path segment"}
	}

	return out, nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if replacement, bad := invalidChars[r]; bad {
			b.WriteRune(replacement)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ImageFilename computes the zero-padded "{i+1}.{ext}" target for an image
// at position i (0-based) within a chapter of totalImgCount images, e.g.
// "001.jpg".
func ImageFilename(i, totalImgCount int, ext string) string {
	width := digitsFor(totalImgCount)
	if width < 3 {
		width = 3
	}
	return fmt.Sprintf("%0*d.%s", width, i+1, ext)
}
