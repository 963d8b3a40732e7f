package pressli

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

const mediaPerPage = 40

type mediaPageData struct {
	MaxSize int64
	Accept  string
}

func (a *App) handleMediaLibrary(c echo.Context) error {
	exts := make([]string, 0, len(allowedMedia))
	for ext := range allowedMedia {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return a.renderAdmin(c, "media", "Media Library", "media", mediaPageData{
		MaxSize: a.Config.MaxUploadSize,
		Accept:  strings.Join(exts, ","),
	})
}

// mediaJSON is the media item shape the library panel consumes.
type mediaJSON struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	OriginalName string `json:"original_name"`
	URL          string `json:"url"`
	ThumbURL     string `json:"thumb_url,omitempty"`
	MimeType     string `json:"mime_type"`
	Ext          string `json:"ext"`
	IsImage      bool   `json:"is_image"`
	Size         int64  `json:"size"`
	SizeHuman    string `json:"size_human"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	AltText      string `json:"alt_text"`
	Caption      string `json:"caption"`
	UploadedAt   string `json:"uploaded_at"`
}

func toMediaJSON(m Media) mediaJSON {
	return mediaJSON{
		ID:           m.ID,
		Title:        m.Title,
		OriginalName: m.OriginalName,
		URL:          m.URL(),
		ThumbURL:     m.ThumbURL(),
		MimeType:     m.MimeType,
		Ext:          m.Ext(),
		IsImage:      m.IsImage(),
		Size:         m.Size,
		SizeHuman:    m.HumanSize(),
		Width:        m.Width,
		Height:       m.Height,
		AltText:      m.AltText,
		Caption:      m.Caption,
		UploadedAt:   m.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

type mediaListJSON struct {
	Items      []mediaJSON `json:"items"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	TotalPages int         `json:"total_pages"`
}

func (a *App) handleMediaList(c echo.Context) error {
	page := pageParam(c)
	items, total, err := a.Media.List(c.Request().Context(), MediaQuery{
		Kind:   c.QueryParam("type"),
		Search: c.QueryParam("q"),
		Limit:  mediaPerPage,
		Offset: (page - 1) * mediaPerPage,
	})
	if err != nil {
		return a.failJSON(c, err)
	}
	out := mediaListJSON{Items: make([]mediaJSON, 0, len(items)), Total: total, Page: page, TotalPages: totalPages(total, mediaPerPage)}
	for _, m := range items {
		out.Items = append(out.Items, toMediaJSON(m))
	}
	return ok(c, "", out)
}

func (a *App) handleMediaUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return a.failJSON(c, Invalid("Choose a file to upload"))
	}
	if fh.Size > a.Config.MaxUploadSize {
		return a.failJSON(c, Invalid("%s is larger than the upload limit", fh.Filename))
	}
	f, err := fh.Open()
	if err != nil {
		return a.failJSON(c, err)
	}
	defer f.Close()
	m, err := a.Media.Upload(c.Request().Context(), CurrentUser(c), fh.Filename, f)
	if err != nil {
		return a.failJSON(c, err)
	}
	a.metrics.uploads.Inc()
	a.metrics.uploadBytes.Add(float64(m.Size))
	return c.JSON(http.StatusCreated, envelope{Success: true, Message: m.OriginalName + " uploaded.", Data: toMediaJSON(m)})
}

func (a *App) handleMediaUpdate(c echo.Context) error {
	m, err := a.Media.UpdateMeta(c.Request().Context(), CurrentUser(c), idParam(c),
		c.FormValue("title"), c.FormValue("alt_text"), c.FormValue("caption"))
	if err != nil {
		return a.failJSON(c, err)
	}
	return ok(c, "Media updated.", toMediaJSON(m))
}

func (a *App) handleMediaDelete(c echo.Context) error {
	if err := a.Media.Delete(c.Request().Context(), CurrentUser(c), idParam(c)); err != nil {
		return a.failJSON(c, err)
	}
	return ok(c, "Media deleted.", nil)
}
