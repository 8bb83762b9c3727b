// Package models holds the data types shared across comicvault's
// subsystems: the upstream client, the download engine, the metadata
// store, and the export pipeline.
package models

import "time"

// SortOrder selects how searchComic results are ordered upstream.
type SortOrder string

const (
	SortDefault    SortOrder = "Default"
	SortTimeNewest SortOrder = "TimeNewest"
	SortTimeOldest SortOrder = "TimeOldest"
	SortLikeMost   SortOrder = "LikeMost"
	SortViewMost   SortOrder = "ViewMost"
)

// FavoriteSort selects ordering for getFavorite; the upstream favorites
// endpoint only supports the two time-based orders.
type FavoriteSort string

const (
	FavoriteTimeNewest FavoriteSort = "TimeNewest"
	FavoriteTimeOldest FavoriteSort = "TimeOldest"
)

// RankType selects the leaderboard window for getRank.
type RankType string

const (
	RankDay   RankType = "Day"
	RankWeek  RankType = "Week"
	RankMonth RankType = "Month"
)

// DownloadFormat is the configured target image format.
type DownloadFormat string

const (
	FormatJpeg     DownloadFormat = "Jpeg"
	FormatPng      DownloadFormat = "Png"
	FormatWebp     DownloadFormat = "Webp"
	FormatOriginal DownloadFormat = "Original"
)

// ProxyType selects the proxy transport for the upstream client.
type ProxyType string

const (
	ProxyHTTP   ProxyType = "Http"
	ProxySocks5 ProxyType = "Socks5"
)

// TaskState is the download task lifecycle state.
type TaskState string

const (
	TaskPending     TaskState = "Pending"
	TaskDownloading TaskState = "Downloading"
	TaskPaused      TaskState = "Paused"
	TaskCancelled   TaskState = "Cancelled"
	TaskCompleted   TaskState = "Completed"
	TaskFailed      TaskState = "Failed"
)

// ImageRef identifies one upstream image: the file server that hosts it,
// its path on that server, and its original filename as reported upstream.
// It is immutable and used to build both display and download URLs.
type ImageRef struct {
	FileServer   string `json:"fileServer"`
	Path         string `json:"path"`
	OriginalName string `json:"originalName"`
}

// DownloadURL returns the address downloadImage fetches bytes from.
func (r ImageRef) DownloadURL() string {
	return r.FileServer + "/static/" + r.Path
}

// Chapter is one unit of downloadable content inside a Comic.
type Chapter struct {
	ChapterID          string `json:"chapterId"`
	ChapterTitle       string `json:"chapterTitle"`
	Order              int    `json:"order"`
	IsDownloaded       bool   `json:"isDownloaded"`
	ChapterDownloadDir string `json:"chapterDownloadDir,omitempty"`
}

// Comic is the identity and chapter structure of one comic title.
type Comic struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Author           string    `json:"author,omitempty"`
	Categories       []string  `json:"categories,omitempty"`
	Cover            ImageRef  `json:"cover"`
	ChapterInfos     []Chapter `json:"chapterInfos"`
	ComicDownloadDir string    `json:"comicDownloadDir,omitempty"`
}

// IsDownloaded is true iff every chapter in ChapterInfos is downloaded.
// A comic with zero chapters is not considered downloaded.
func (c Comic) IsDownloaded() bool {
	if len(c.ChapterInfos) == 0 {
		return false
	}
	for _, ch := range c.ChapterInfos {
		if !ch.IsDownloaded {
			return false
		}
	}
	return true
}

// ComicInSearch is the lightweight projection returned by searchComic,
// getFavorite and getRank listings.
type ComicInSearch struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Author     string   `json:"author,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Cover      ImageRef `json:"cover"`
}

// Page is a single page of a paginated upstream listing.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Page       int  `json:"page"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// UserProfile is the authenticated user's profile.
type UserProfile struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Avatar ImageRef `json:"avatar"`
}

// DownloadTask tracks one chapter's download lifecycle end to end. It is
// engine-internal and not persisted; resumption after a restart uses
// on-disk state via the metadata store, never task state.
type DownloadTask struct {
	ID                 string    `json:"id"`
	ComicID            string    `json:"comicId"`
	ChapterID          string    `json:"chapterId"`
	State              TaskState `json:"state"`
	DownloadedImgCount int       `json:"downloadedImgCount"`
	TotalImgCount      int       `json:"totalImgCount"`
	Comic              Comic     `json:"comic"`
	Chapter            Chapter   `json:"chapter"`
	Error              string    `json:"error,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Key identifies the (comicId, chapterId) pair a task serves. Two
// concurrent tasks for the same key are not permitted.
func (t DownloadTask) Key() TaskKey {
	return TaskKey{ComicID: t.ComicID, ChapterID: t.ChapterID}
}

// TaskKey is the dedup key for the task registry.
type TaskKey struct {
	ComicID   string
	ChapterID string
}

// ProxyConfig describes an optional upstream HTTP proxy.
type ProxyConfig struct {
	Host string    `json:"host"`
	Port int       `json:"port"`
	Type ProxyType `json:"proxyType"`
}

// Config is the full set of recognized settings. Fields not recognized by
// comicvault but present in the on-disk document are preserved verbatim by
// the config store across rewrites.
type Config struct {
	Token                           string         `json:"token,omitempty"`
	DownloadDir                     string         `json:"downloadDir"`
	ComicDirNameFmt                 string         `json:"comicDirNameFmt"`
	ChapterDirNameFmt               string         `json:"chapterDirNameFmt"`
	DownloadFormat                  DownloadFormat `json:"downloadFormat"`
	ChapterConcurrency              int            `json:"chapterConcurrency"`
	ImgConcurrency                  int            `json:"imgConcurrency"`
	ChapterDownloadIntervalSec      float64        `json:"chapterDownloadIntervalSec"`
	ImgDownloadIntervalSec          float64        `json:"imgDownloadIntervalSec"`
	DownloadAllFavoritesIntervalSec float64        `json:"downloadAllFavoritesIntervalSec"`
	Proxy                           *ProxyConfig   `json:"proxy,omitempty"`
}

// Default returns the out-of-box configuration document.
func Default() Config {
	return Config{
		DownloadDir:         "",
		ComicDirNameFmt:     "{comic_title}",
		ChapterDirNameFmt:   "{order} - {chapter_title}",
		DownloadFormat:      FormatJpeg,
		ChapterConcurrency:  3,
		ImgConcurrency:      10,
		ImgDownloadIntervalSec:     0,
		ChapterDownloadIntervalSec: 0,
	}
}
