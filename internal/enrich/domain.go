package enrich

import (
	"regexp"
	"strings"
)

var (
	// socialDomains also lists link-in-bio hosts, which never carry a business inbox.
	socialDomains = map[string]bool{
		"instagram.com": true,
		"tiktok.com":    true,
		"youtube.com":   true,
		"youtu.be":      true,
		"twitter.com":   true,
		"x.com":         true,
		"facebook.com":  true,
		"fb.com":        true,
		"linkedin.com":  true,
		"pinterest.com": true,
		"twitch.tv":     true,
		"threads.net":   true,
		"snapchat.com":  true,
		"reddit.com":    true,
		"linktr.ee":     true,
		"beacons.ai":    true,
		"stan.store":    true,
		"bio.link":      true,
		"linkin.bio":    true,
		"campsite.bio":  true,
	}

	bioEmail  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	bioDomain = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?)*\.[a-z]{2,}(?::\d+)?(?:/\S*)?`)
)

// NormalizeDomain reduces a URL or host to a bare lowercase domain:
// "https://www.Example.com:443/path?q#f" becomes "example.com".
func NormalizeDomain(raw string) string {
	d := strings.TrimSpace(raw)
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndexByte(d, '@'); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	d = strings.ToLower(strings.TrimSuffix(d, "."))
	return strings.TrimPrefix(d, "www.")
}

// IsSocialDomain reports whether domain (or a parent of it) is a social
// platform or link-in-bio host.
func IsSocialDomain(domain string) bool {
	d := NormalizeDomain(domain)
	for d != "" {
		if socialDomains[d] {
			return true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return false
}

// RecoverBusinessDomain finds the first non-social website mentioned in a
// creator bio. Email addresses in the bio are ignored. Returns "" when none.
func RecoverBusinessDomain(bio string) string {
	text := bioEmail.ReplaceAllString(bio, " ")
	for _, m := range bioDomain.FindAllString(text, -1) {
		d := NormalizeDomain(m)
		if d == "" || !strings.Contains(d, ".") || IsSocialDomain(d) {
			continue
		}
		return d
	}
	return ""
}
