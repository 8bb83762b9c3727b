package httpapi

import (
	"net/http"
	"strconv"

	"comicvault/models"
)

func (s *Server) handleGreet(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.svc.Greet())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.svc.GetConfig())
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var doc models.Config
	if err := decodeBody(r, &doc); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.SaveConfig(doc); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, doc)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	token, err := s.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, err)
		return
	}
	writeOK(w, map[string]string{"token": token})
}

func (s *Server) handleGetUserProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.svc.GetUserProfile(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeOK(w, profile)
}

func (s *Server) handleSearchComic(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	result, err := s.svc.SearchComic(r.Context(), q.Get("keyword"), models.SortOrder(q.Get("sort")), page, q["categories"])
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeOK(w, result)
}

func (s *Server) handleGetComic(w http.ResponseWriter, r *http.Request) {
	comic, err := s.svc.GetComic(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeOK(w, comic)
}

func (s *Server) handleGetSyncedComic(w http.ResponseWriter, r *http.Request) {
	synced, err := s.svc.GetSyncedComic(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeOK(w, synced)
}

func (s *Server) handleGetSyncedComicInSearch(w http.ResponseWriter, r *http.Request) {
	var comic models.ComicInSearch
	if err := decodeBody(r, &comic); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	synced, err := s.svc.GetSyncedComicInSearch(r.Context(), comic)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeOK(w, synced)
}

func (s *Server) handleGetSyncedComicInFavorite(w http.ResponseWriter, r *http.Request) {
	var comic models.ComicInSearch
	if err := decodeBody(r, &comic); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	synced, err := s.svc.GetSyncedComicInFavorite(r.Context(), comic)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeOK(w, synced)
}

func (s *Server) handleGetFavorite(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	result, err := s.svc.GetFavorite(r.Context(), models.FavoriteSort(q.Get("sort")), page)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeOK(w, result)
}

func (s *Server) handleGetRank(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.GetRank(r.Context(), models.RankType(r.URL.Query().Get("type")))
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeOK(w, result)
}

func (s *Server) handleCreateDownloadTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Comic     models.Comic `json:"comic"`
		ChapterID string       `json:"chapterId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	task, err := s.svc.CreateDownloadTask(r.Context(), req.Comic, req.ChapterID)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeOK(w, task)
}

func (s *Server) handleDownloadComic(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.DownloadComic(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeOK(w, tasks)
}

func (s *Server) handleDownloadAllFavorites(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DownloadAllFavorites(r.Context()); err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeOK(w, true)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.PauseDownloadTask(r.PathValue("id")); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeOK(w, true)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ResumeDownloadTask(r.PathValue("id")); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeOK(w, true)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.CancelDownloadTask(r.PathValue("id")); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeOK(w, true)
}

func (s *Server) handleExportCbz(w http.ResponseWriter, r *http.Request) {
	var comic models.Comic
	if err := decodeBody(r, &comic); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	paths, err := s.svc.ExportCbz(comic)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, paths)
}

func (s *Server) handleExportPdf(w http.ResponseWriter, r *http.Request) {
	var comic models.Comic
	if err := decodeBody(r, &comic); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	paths, err := s.svc.ExportPdf(comic)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, paths)
}

func (s *Server) handleShowPathInFileManager(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	path, err := s.svc.ShowPathInFileManager(req.Path)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeOK(w, path)
}

func (s *Server) handleGetLogsDirSize(w http.ResponseWriter, r *http.Request) {
	size, err := s.svc.GetLogsDirSize()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, size)
}
