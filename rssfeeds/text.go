package rssfeeds

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// CleanHTML strips markup from a feed field and collapses whitespace.
// Entities are decoded and script/style bodies dropped.
func CleanHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return collapseSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpace(s)
	}
	doc.Find("script, style").Remove()
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseDate parses a feed date in any common layout. It returns nil for
// empty or unparseable input.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// CanonicalLink normalizes an entry link so the same article reached
// through tracking links is stored once: scheme and host are lower-cased,
// the fragment and utm_*, fbclid and gclid parameters removed, and a
// trailing slash trimmed.
func CanonicalLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		u.RawQuery = stripTracking(u.RawQuery)
	}

	return strings.TrimRight(u.String(), "/")
}

// stripTracking drops utm_*, fbclid and gclid parameters. Surviving pairs
// keep their order and escaping; an untouched query is returned as is.
func stripTracking(rawQuery string) string {
	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0:0]
	for _, p := range pairs {
		key, _, _ := strings.Cut(p, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") || lk == "fbclid" || lk == "gclid" {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == len(pairs) {
		return rawQuery
	}
	return strings.Join(kept, "&")
}
