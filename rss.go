package pressli

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pressli/pressli/markdown"
)

type rssXML struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	Categories  []string `xml:"category"`
	PubDate     string   `xml:"pubDate"`
	GUID        string   `xml:"guid"`
}

func (a *App) renderRSS(c echo.Context, posts []Post) error {
	ctx := c.Request().Context()
	base := a.Config.SiteURL
	items := make([]rssItem, 0, len(posts))
	for _, p := range posts {
		postURL := AbsoluteURL(base, p.Permalink())
		desc := p.Excerpt
		if desc == "" {
			desc = markdown.Excerpt(p.Format, p.Content, excerptWords)
		}
		item := rssItem{
			Title:       p.Title,
			Link:        postURL,
			Description: desc,
			PubDate:     p.PublishedAt.Format(time.RFC1123Z),
			GUID:        postURL,
		}
		for _, t := range p.Categories {
			item.Categories = append(item.Categories, t.Name)
		}
		items = append(items, item)
	}
	title, err := a.Settings.Get(ctx, "site_title")
	if err != nil {
		return err
	}
	tagline, err := a.Settings.Get(ctx, "tagline")
	if err != nil {
		return err
	}
	feed := rssXML{
		Version: "2.0",
		Channel: rssChannel{
			Title:       title,
			Link:        base,
			Description: tagline,
			Items:       items,
		},
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/rss+xml; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Write([]byte(xml.Header))
	return xml.NewEncoder(c.Response()).Encode(feed)
}
