// Package analytics records anonymous page views of the public site and
// aggregates them for the admin stats screen. Visitors are identified by a
// salted hash of IP and User-Agent; raw addresses are never stored.
package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// View is a single page view by a human visitor.
type View struct {
	VisitorID string
	Browser   string
	OS        string
	Device    string
	Path      string
	Referrer  string
	Timestamp time.Time
}

// BotView is a single page view by a crawler.
type BotView struct {
	BotName   string
	Path      string
	Timestamp time.Time
}

// Summary holds aggregated statistics for a period.
type Summary struct {
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Views     int             `json:"views"`
	Visitors  int             `json:"visitors"`
	BotViews  int             `json:"bot_views"`
	TopPages  []PageStat      `json:"top_pages"`
	Referrers []DimensionStat `json:"referrers"`
	Browsers  []DimensionStat `json:"browsers"`
	Devices   []DimensionStat `json:"devices"`
	Bots      []DimensionStat `json:"bots"`
	Daily     []DailyView     `json:"daily"`
}

// PageStat is the view count of one path.
type PageStat struct {
	Path  string `json:"path"`
	Views int    `json:"views"`
}

// DimensionStat is one row of a breakdown (browser, device, referrer, bot).
type DimensionStat struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DailyView is the view count of one day, formatted 2006-01-02.
type DailyView struct {
	Date  string `json:"date"`
	Views int    `json:"views"`
}

// MaxDailyViews returns the largest daily count, for scaling bar charts.
func (s *Summary) MaxDailyViews() int {
	m := 0
	for _, d := range s.Daily {
		if d.Views > m {
			m = d.Views
		}
	}
	return m
}

// visitorID hashes the visitor's IP and User-Agent with the installation salt.
func visitorID(salt, ip, userAgent string) string {
	h := sha256.New()
	h.Write([]byte(salt + ip + "|" + userAgent))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ParseUserAgent extracts browser, OS, and device from a User-Agent string.
func ParseUserAgent(ua string) (browser, os, device string) {
	ua = strings.ToLower(ua)

	// more specific patterns first: Edge and Opera UAs contain "chrome"
	switch {
	case strings.Contains(ua, "firefox"):
		browser = "Firefox"
	case strings.Contains(ua, "opera") || strings.Contains(ua, "opr/"):
		browser = "Opera"
	case strings.Contains(ua, "edg"):
		browser = "Edge"
	case strings.Contains(ua, "chrome"):
		browser = "Chrome"
	case strings.Contains(ua, "safari"):
		browser = "Safari"
	default:
		browser = "Other"
	}

	// Android before Linux
	switch {
	case strings.Contains(ua, "windows"):
		os = "Windows"
	case strings.Contains(ua, "android"):
		os = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
		os = "iOS"
	case strings.Contains(ua, "macintosh") || strings.Contains(ua, "mac os"):
		os = "macOS"
	case strings.Contains(ua, "linux"):
		os = "Linux"
	default:
		os = "Other"
	}

	// iPad UAs contain "mobile"
	switch {
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		device = "Tablet"
	case strings.Contains(ua, "mobile"):
		device = "Mobile"
	default:
		device = "Desktop"
	}
	return
}

var botMarkers = []string{
	"bot", "crawler", "spider", "crawl", "slurp", "scrape",
	"yandex", "baidu", "facebookexternalhit", "curl", "wget", "python-requests",
}

// IsBot reports whether the User-Agent is likely a crawler or script.
// An empty User-Agent counts as a bot.
func IsBot(ua string) bool {
	if strings.TrimSpace(ua) == "" {
		return true
	}
	ua = strings.ToLower(ua)
	for _, m := range botMarkers {
		if strings.Contains(ua, m) {
			return true
		}
	}
	return false
}

// botNames is ordered: specific crawlers before the generic markers.
var botNames = []struct{ pattern, name string }{
	{"googlebot", "Googlebot"},
	{"bingbot", "Bingbot"},
	{"yandex", "Yandex"},
	{"baidu", "Baidu"},
	{"duckduckbot", "DuckDuckBot"},
	{"facebookexternalhit", "Facebook"},
	{"twitterbot", "Twitterbot"},
	{"linkedinbot", "LinkedIn"},
	{"ahrefsbot", "Ahrefs"},
	{"semrushbot", "SEMrush"},
	{"mj12bot", "Majestic"},
	{"dotbot", "Moz"},
	{"slurp", "Yahoo Slurp"},
	{"curl", "curl"},
	{"wget", "Wget"},
	{"python-requests", "Python"},
	{"crawler", "Generic Crawler"},
	{"spider", "Generic Spider"},
}

// BotName names the crawler behind a User-Agent.
func BotName(ua string) string {
	ua = strings.ToLower(ua)
	for _, b := range botNames {
		if strings.Contains(ua, b.pattern) {
			return b.name
		}
	}
	if strings.Contains(ua, "bot") {
		return "Other Bot"
	}
	return "Unknown"
}

var referrerHost = regexp.MustCompile(`^https?://(?:www\.)?([^/:]+)`)

var searchEngines = []struct{ marker, name string }{
	{"google.", "Google"},
	{"bing.", "Bing"},
	{"duckduckgo.", "DuckDuckGo"},
	{"yahoo.", "Yahoo"},
	{"github.", "GitHub"},
}

// CleanReferrer reduces a referrer URL to a source name. Links from siteHost
// itself count as "Direct".
func CleanReferrer(ref, siteHost string) string {
	if ref == "" {
		return "Direct"
	}
	lower := strings.ToLower(ref)
	m := referrerHost.FindStringSubmatch(lower)
	if len(m) > 1 && siteHost != "" && strings.TrimPrefix(strings.ToLower(siteHost), "www.") == m[1] {
		return "Direct"
	}
	for _, se := range searchEngines {
		if strings.Contains(lower, se.marker) {
			return se.name
		}
	}
	if len(m) > 1 {
		return m[1]
	}
	return "Other"
}

// Day truncates t to midnight in its location.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
