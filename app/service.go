// Package app implements the command surface exposed to the UI
// collaborator: one method per command, each a thin wrapper composing the
// config, upstream, engine, metadata, pathfmt, and export packages. This is
// the seam an HTTP or RPC transport (see httpapi) binds onto; app itself
// knows nothing about wire formats.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"comicvault/config"
	"comicvault/engine"
	"comicvault/events"
	"comicvault/export"
	"comicvault/metadata"
	"comicvault/models"
	"comicvault/pathfmt"
	"comicvault/upstream"
)

// Service is the single entry point for every command the UI can invoke.
type Service struct {
	cfg      *config.Store
	upstream *upstream.Client
	meta     *metadata.Store
	engine   *engine.Engine
	bus      *events.Bus
	logsDir  string
}

// New wires a Service from its already-constructed collaborators.
func New(cfg *config.Store, client *upstream.Client, metaStore *metadata.Store, eng *engine.Engine, bus *events.Bus, logsDir string) *Service {
	return &Service{cfg: cfg, upstream: client, meta: metaStore, engine: eng, bus: bus, logsDir: logsDir}
}

// Greet is the trivial liveness/handshake command.
func (s *Service) Greet() string { return "comicvault backend ready" }

// GetConfig returns the current settings document.
func (s *Service) GetConfig() models.Config { return s.cfg.Get() }

// SaveConfig persists doc synchronously, surfacing a ConfigError on failure
// without mutating the in-memory document.
func (s *Service) SaveConfig(doc models.Config) error {
	if err := s.cfg.SaveSync(doc); err != nil {
		return err
	}
	if doc.Token != "" {
		s.upstream.SetToken(doc.Token)
	}
	return nil
}

// Login authenticates and persists the returned token into the config
// document so it survives a restart.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	token, err := s.upstream.Login(ctx, email, password)
	if err != nil {
		return "", err
	}
	doc := s.cfg.Get()
	doc.Token = token
	if err := s.cfg.SaveSync(doc); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) GetUserProfile(ctx context.Context) (models.UserProfile, error) {
	return s.upstream.GetUserProfile(ctx)
}

func (s *Service) SearchComic(ctx context.Context, keyword string, sort models.SortOrder, page int, categories []string) (models.Page[models.ComicInSearch], error) {
	return s.upstream.SearchComic(ctx, keyword, sort, page, categories)
}

func (s *Service) GetComic(ctx context.Context, comicID string) (models.Comic, error) {
	return s.upstream.GetComic(ctx, comicID)
}

func (s *Service) GetFavorite(ctx context.Context, sort models.FavoriteSort, page int) (models.Page[models.ComicInSearch], error) {
	return s.upstream.GetFavorite(ctx, sort, page)
}

func (s *Service) GetRank(ctx context.Context, rankType models.RankType) ([]models.ComicInSearch, error) {
	return s.upstream.GetRank(ctx, rankType)
}

// CreateDownloadTask creates (or dedups onto) a download task for one
// chapter of comic, identified by chapterId.
func (s *Service) CreateDownloadTask(ctx context.Context, comic models.Comic, chapterID string) (models.DownloadTask, error) {
	for _, ch := range comic.ChapterInfos {
		if ch.ChapterID == chapterID {
			return s.engine.CreateDownloadTask(ctx, comic, ch), nil
		}
	}
	return models.DownloadTask{}, fmt.Errorf("chapter %s not found on comic %s", chapterID, comic.ID)
}

func (s *Service) DownloadComic(ctx context.Context, comicID string) ([]models.DownloadTask, error) {
	return s.engine.DownloadComic(ctx, comicID)
}

func (s *Service) DownloadAllFavorites(ctx context.Context) error {
	return s.engine.DownloadAllFavorites(ctx)
}

func (s *Service) PauseDownloadTask(taskID string) error  { return s.engine.PauseTask(taskID) }
func (s *Service) ResumeDownloadTask(taskID string) error { return s.engine.ResumeTask(taskID) }
func (s *Service) CancelDownloadTask(taskID string) error { return s.engine.CancelTask(taskID) }

// ExportCbz produces one CBZ per downloaded chapter of comic, returning the
// artifact paths.
func (s *Service) ExportCbz(comic models.Comic) ([]string, error) {
	return s.exportAll(comic, func(chapterDir, outPath string, filenames []string) error {
		return export.CBZ(chapterDir, filenames, outPath)
	}, ".cbz")
}

// ExportPdf produces one PDF per downloaded chapter of comic, returning the
// artifact paths.
func (s *Service) ExportPdf(comic models.Comic) ([]string, error) {
	return s.exportAll(comic, func(chapterDir, outPath string, filenames []string) error {
		return export.PDF(chapterDir, filenames, outPath)
	}, ".pdf")
}

func (s *Service) exportAll(comic models.Comic, write func(chapterDir, outPath string, filenames []string) error, suffix string) ([]string, error) {
	cur := s.cfg.Get()
	comicDirName, err := pathfmt.ComicDir(cur.ComicDirNameFmt, comic)
	if err != nil {
		return nil, err
	}
	comicDir := filepath.Join(cur.DownloadDir, comicDirName)

	var outputs []string
	for _, ch := range comic.ChapterInfos {
		if !ch.IsDownloaded || ch.ChapterDownloadDir == "" {
			continue
		}
		chapterDir := filepath.Join(comicDir, ch.ChapterDownloadDir)
		meta, err := s.meta.ReadChapterMetadata(chapterDir)
		if err != nil {
			return outputs, err
		}
		outPath := filepath.Join(comicDir, ch.ChapterDownloadDir+suffix)
		if err := write(chapterDir, outPath, meta.ImageFilenames); err != nil {
			return outputs, err
		}
		outputs = append(outputs, outPath)
	}
	return outputs, nil
}

// ShowPathInFileManager validates path exists and returns it verbatim; the
// UI collaborator is responsible for actually invoking the platform file
// manager.
func (s *Service) ShowPathInFileManager(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// SyncedComic overlays on-disk download state onto an upstream comic
// document, since ComicInSearch/Page results reflect only the server's
// view of the catalog.
type SyncedComic struct {
	models.Comic
	IsDownloaded bool `json:"isDownloaded"`
}

// GetSyncedComic fetches comicId fresh from upstream and folds in local
// chapter completeness from the metadata store.
func (s *Service) GetSyncedComic(ctx context.Context, comicID string) (SyncedComic, error) {
	comic, err := s.upstream.GetComic(ctx, comicID)
	if err != nil {
		return SyncedComic{}, err
	}
	return s.sync(comic)
}

// GetSyncedComicInSearch overlays local download state onto a single
// search-result comic, re-fetching the full comic document to learn its
// chapter structure.
func (s *Service) GetSyncedComicInSearch(ctx context.Context, comic models.ComicInSearch) (SyncedComic, error) {
	return s.GetSyncedComic(ctx, comic.ID)
}

// GetSyncedComicInFavorite is identical to GetSyncedComicInSearch; kept as
// a distinct command since the UI invokes it from a different pane.
func (s *Service) GetSyncedComicInFavorite(ctx context.Context, comic models.ComicInSearch) (SyncedComic, error) {
	return s.GetSyncedComic(ctx, comic.ID)
}

func (s *Service) sync(comic models.Comic) (SyncedComic, error) {
	cur := s.cfg.Get()
	comicDirName, err := pathfmt.ComicDir(cur.ComicDirNameFmt, comic)
	if err != nil {
		return SyncedComic{}, err
	}
	comicDir := filepath.Join(cur.DownloadDir, comicDirName)

	onDisk, err := s.meta.ReadComicMetadata(comicDir)
	if err != nil {
		// No local record yet: nothing downloaded, comic as fetched.
		return SyncedComic{Comic: comic, IsDownloaded: false}, nil
	}

	downloaded := map[string]models.Chapter{}
	for _, ch := range onDisk.ChapterInfos {
		downloaded[ch.ChapterID] = ch
	}
	for i, ch := range comic.ChapterInfos {
		if local, ok := downloaded[ch.ChapterID]; ok {
			comic.ChapterInfos[i].IsDownloaded = local.IsDownloaded
			comic.ChapterInfos[i].ChapterDownloadDir = local.ChapterDownloadDir
		}
	}
	comic.ComicDownloadDir = comicDir
	return SyncedComic{Comic: comic, IsDownloaded: comic.IsDownloaded()}, nil
}

// GetLogsDirSize sums the byte size of every file under the configured
// logs directory.
func (s *Service) GetLogsDirSize() (int64, error) {
	var total int64
	err := filepath.Walk(s.logsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
