package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	googleUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		ua                  string
		browser, os, device string
	}{
		{chromeUA, "Chrome", "Windows", "Desktop"},
		{iphoneUA, "Safari", "iOS", "Mobile"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Firefox", "Linux", "Desktop"},
		{"Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36 EdgA/120.0", "Edge", "Android", "Mobile"},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) Mobile/15E148 Safari/604.1", "Safari", "iOS", "Tablet"},
	}
	for _, tt := range tests {
		b, o, d := ParseUserAgent(tt.ua)
		assert.Equal(t, tt.browser, b, tt.ua)
		assert.Equal(t, tt.os, o, tt.ua)
		assert.Equal(t, tt.device, d, tt.ua)
	}
}

func TestBotDetection(t *testing.T) {
	assert.True(t, IsBot(googleUA))
	assert.True(t, IsBot(""))
	assert.True(t, IsBot("curl/8.4.0"))
	assert.False(t, IsBot(chromeUA))

	assert.Equal(t, "Googlebot", BotName(googleUA))
	assert.Equal(t, "curl", BotName("curl/8.4.0"))
	assert.Equal(t, "Other Bot", BotName("FancyBot/1.0"))
}

func TestCleanReferrer(t *testing.T) {
	tests := []struct {
		ref, want string
	}{
		{"", "Direct"},
		{"https://www.google.com/search?q=pressli", "Google"},
		{"https://news.ycombinator.com/item?id=1", "news.ycombinator.com"},
		{"https://www.example.com/other-post/", "Direct"},
		{"not a url", "Other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanReferrer(tt.ref, "example.com"), tt.ref)
	}
}

func TestPeriodRange(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	from, to := ParsePeriod("week").Range(now)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), to)
	assert.Equal(t, "week", ParsePeriod("bogus").Name)
	assert.Equal(t, 90, ParsePeriod("quarter").Days)
}

func newTestRecorder(t *testing.T, now *time.Time) (*Recorder, *Store) {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rec, err := NewRecorder(context.Background(), st, "example.com", nil)
	require.NoError(t, err)
	t.Cleanup(rec.Close)
	rec.SetClock(func() time.Time { return *now })
	return rec, st
}

func TestSaltIsStable(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	a, err := st.Salt(ctx)
	require.NoError(t, err)
	b, err := st.Salt(ctx)
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
}

func TestMiddlewareRecordsHTMLPages(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rec, st := newTestRecorder(t, &now)

	e := echo.New()
	mw := rec.Middleware(nil)
	e.GET("/:slug/", func(c echo.Context) error {
		return c.HTML(http.StatusOK, "<p>hi</p>")
	}, mw)
	e.GET("/feed.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{})
	}, mw)

	do := func(path, ua, referer string, dnt bool) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("User-Agent", ua)
		req.Header.Set("X-Real-IP", "203.0.113.5")
		if referer != "" {
			req.Header.Set("Referer", referer)
		}
		if dnt {
			req.Header.Set("DNT", "1")
		}
		e.ServeHTTP(httptest.NewRecorder(), req)
	}
	do("/hello/", chromeUA, "https://www.google.com/", false)
	do("/hello/", chromeUA, "", false)
	do("/about/", iphoneUA, "", false)
	do("/about/", googleUA, "", false)
	do("/about/", chromeUA, "", true)
	do("/feed.json", chromeUA, "", false)

	from, to := ParsePeriod("week").Range(now)
	sum, err := st.Summary(context.Background(), from, to, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Views)
	assert.Equal(t, 2, sum.Visitors)
	assert.Equal(t, 1, sum.BotViews)
	assert.Equal(t, []PageStat{{"/hello/", 2}, {"/about/", 1}}, sum.TopPages)
	assert.Equal(t, []DimensionStat{{"Googlebot", 1}}, sum.Bots)
	assert.Contains(t, sum.Referrers, DimensionStat{"Google", 1})
	require.Len(t, sum.Daily, 7)
	assert.Equal(t, DailyView{"2026-03-10", 3}, sum.Daily[6])
	assert.Equal(t, 3, sum.MaxDailyViews())
}

func TestRecorderRateLimitsVisitor(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rec, st := newTestRecorder(t, &now)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", chromeUA)
	for i := 0; i < 40; i++ {
		rec.Record(ctx, req, "198.51.100.1", "/")
	}
	now = now.Add(2 * time.Minute)
	rec.Record(ctx, req, "198.51.100.1", "/")

	from, to := ParsePeriod("week").Range(now)
	sum, err := st.Summary(ctx, from, to, 10)
	require.NoError(t, err)
	assert.Equal(t, 31, sum.Views)
}

func TestCleanupRemovesOldViews(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	_, st := newTestRecorder(t, &now)
	ctx := context.Background()

	require.NoError(t, st.SaveView(ctx, View{VisitorID: "a", Browser: "Chrome", OS: "Linux", Device: "Desktop", Path: "/", Timestamp: now.AddDate(0, 0, -100)}))
	require.NoError(t, st.SaveView(ctx, View{VisitorID: "b", Browser: "Chrome", OS: "Linux", Device: "Desktop", Path: "/", Timestamp: now}))
	require.NoError(t, st.SaveBotView(ctx, BotView{BotName: "Bingbot", Path: "/", Timestamp: now.AddDate(0, 0, -100)}))

	n, err := st.Cleanup(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sum, err := st.Summary(ctx, now.AddDate(-1, 0, 0), now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Views)
	assert.Zero(t, sum.BotViews)
}
