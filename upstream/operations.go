package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"comicvault/models"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login authenticates and stores the returned token for subsequent calls.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return "", err
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// GetUserProfile returns the authenticated user's profile.
func (c *Client) GetUserProfile(ctx context.Context) (models.UserProfile, error) {
	var resp struct {
		User models.UserProfile `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/user/profile", nil, &resp); err != nil {
		return models.UserProfile{}, err
	}
	return resp.User, nil
}

// SearchComic searches the catalog by keyword, sort order, page, and an
// optional category filter.
func (c *Client) SearchComic(ctx context.Context, keyword string, sort models.SortOrder, page int, categories []string) (models.Page[models.ComicInSearch], error) {
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("sort", string(sort))
	q.Set("page", strconv.Itoa(page))
	for _, cat := range categories {
		q.Add("categories[]", cat)
	}

	var resp struct {
		Comics     []models.ComicInSearch `json:"comics"`
		Page       int                    `json:"page"`
		TotalPages int                    `json:"totalPages"`
	}
	path := "/api/v1/comics/search?" + q.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return models.Page[models.ComicInSearch]{}, err
	}

	return models.Page[models.ComicInSearch]{
		Items:      resp.Comics,
		Page:       resp.Page,
		TotalPages: resp.TotalPages,
		HasMore:    resp.Page < resp.TotalPages,
	}, nil
}

type chapterPage struct {
	Chapters   []models.Chapter `json:"chapters"`
	Page       int              `json:"page"`
	TotalPages int              `json:"totalPages"`
}

// GetComic fetches the full comic document, concatenating every upstream
// chapter-listing page into one ascending-order, densely numbered slice.
func (c *Client) GetComic(ctx context.Context, id string) (models.Comic, error) {
	var base struct {
		Comic models.Comic `json:"comic"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/comics/"+id, nil, &base); err != nil {
		return models.Comic{}, err
	}

	var all []models.Chapter
	for page := 1; ; page++ {
		var cp chapterPage
		path := fmt.Sprintf("/api/v1/comics/%s/chapters?page=%d", id, page)
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &cp); err != nil {
			return models.Comic{}, err
		}
		all = append(all, cp.Chapters...)
		if page >= cp.TotalPages || cp.TotalPages == 0 {
			break
		}
	}

	for i := range all {
		all[i].Order = i + 1
	}

	base.Comic.ID = id
	base.Comic.ChapterInfos = all
	return base.Comic, nil
}

// GetChapterImages resolves the ordered image list for one chapter across
// all upstream pagination pages.
func (c *Client) GetChapterImages(ctx context.Context, comicID string, order int) ([]models.ImageRef, error) {
	var all []models.ImageRef
	for page := 1; ; page++ {
		var resp struct {
			Images     []models.ImageRef `json:"images"`
			Page       int               `json:"page"`
			TotalPages int               `json:"totalPages"`
		}
		path := fmt.Sprintf("/api/v1/comics/%s/order/%d/pages?page=%d", comicID, order, page)
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Images...)
		if page >= resp.TotalPages || resp.TotalPages == 0 {
			break
		}
	}
	return all, nil
}

// GetFavorite lists the authenticated user's favorites.
func (c *Client) GetFavorite(ctx context.Context, sort models.FavoriteSort, page int) (models.Page[models.ComicInSearch], error) {
	var resp struct {
		Comics     []models.ComicInSearch `json:"comics"`
		Page       int                    `json:"page"`
		TotalPages int                    `json:"totalPages"`
	}
	path := fmt.Sprintf("/api/v1/users/favorite?sort=%s&page=%d", sort, page)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return models.Page[models.ComicInSearch]{}, err
	}
	return models.Page[models.ComicInSearch]{
		Items:      resp.Comics,
		Page:       resp.Page,
		TotalPages: resp.TotalPages,
		HasMore:    resp.Page < resp.TotalPages,
	}, nil
}

// GetRank lists the leaderboard for a ranking window.
func (c *Client) GetRank(ctx context.Context, rankType models.RankType) ([]models.ComicInSearch, error) {
	var resp struct {
		Comics []models.ComicInSearch `json:"comics"`
	}
	path := "/api/v1/comics/rank?type=" + string(rankType)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Comics, nil
}

// DownloadImage fetches the raw bytes of one image. Images are tens to
// hundreds of KB upstream, so this is one-shot, not streamed.
func (c *Client) DownloadImage(ctx context.Context, ref models.ImageRef) ([]byte, error) {
	fullURL := ref.DownloadURL()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		data, retryAfter, err := c.fetchBinary(ctx, fullURL)
		if err == nil {
			return data, nil
		}
		if httpErr, ok := err.(*HttpClientError); ok {
			if httpErr.Status == 401 {
				return nil, ErrAuthExpired
			}
			if !httpErr.IsRetryable() {
				return nil, err
			}
			lastErr = err
			c.sleepBackoff(ctx, attempt, retryAfter)
			continue
		}
		lastErr = &NetworkError{URL: fullURL, Err: err}
		c.sleepBackoff(ctx, attempt, 0)
	}
	return nil, fmt.Errorf("image download failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) fetchBinary(ctx context.Context, fullURL string) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, connectTimeout+requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Referer", baseURL)
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	retryAfter := 0
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, convErr := strconv.Atoi(ra); convErr == nil {
			retryAfter = secs
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryAfter, err
	}

	data, err := decompress(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, retryAfter, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, retryAfter, &HttpClientError{Status: resp.StatusCode, Message: sample(data), URL: fullURL}
	}
	return data, retryAfter, nil
}
