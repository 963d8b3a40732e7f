package pressli

import (
	"encoding/json"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldReplacer handles letters that do not decompose into an ASCII base.
var foldReplacer = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "ø", "o", "đ", "d", "ł", "l", "þ", "th", "œ", "oe", "ı", "i",
)

// Slugify converts a title to a URL-safe slug. Accented letters are folded
// to their ASCII base.
func Slugify(s string) string {
	s = foldReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	var b strings.Builder
	prev := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = false
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('-')
				prev = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > 190 {
		out = strings.TrimRight(out[:190], "-")
	}
	return out
}

// BuildURL joins a base URL with path segments, ensuring a trailing slash.
func BuildURL(base string, pathSegments ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = path.Join(u.Path, path.Join(pathSegments...))
	if len(pathSegments) > 0 && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

// AbsoluteURL resolves a site-relative path such as /hello/ against base.
func AbsoluteURL(base, rel string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}

// FilterEmpty removes empty/whitespace-only strings from a slice.
func FilterEmpty(vals []string) []string {
	var out []string
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitList splits a comma-separated list, dropping empty entries.
func SplitList(s string) []string {
	return FilterEmpty(strings.Split(s, ","))
}

// parseIDs converts form values to ids, skipping anything not positive.
func parseIDs(vals []string) []int64 {
	var ids []int64
	for _, v := range vals {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// BlogPostingJSONLD returns a JSON-LD string for a BlogPosting schema.
func BlogPostingJSONLD(p Post, siteURL, siteName string) string {
	postURL := AbsoluteURL(siteURL, p.Permalink())
	data := map[string]any{
		"@context":      "https://schema.org",
		"@type":         "BlogPosting",
		"headline":      p.Title,
		"datePublished": p.PublishedAt.Format("2006-01-02"),
		"dateModified":  p.UpdatedAt.Format("2006-01-02"),
		"url":           postURL,
		"mainEntityOfPage": map[string]string{
			"@type": "WebPage",
			"@id":   postURL,
		},
	}
	if p.AuthorName != "" {
		data["author"] = map[string]string{"@type": "Person", "name": p.AuthorName}
	}
	if siteName != "" {
		data["publisher"] = map[string]string{"@type": "Organization", "name": siteName}
	}
	if len(p.Tags) > 0 {
		names := make([]string, len(p.Tags))
		for i, t := range p.Tags {
			names[i] = t.Name
		}
		data["keywords"] = strings.Join(names, ", ")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(b)
}
