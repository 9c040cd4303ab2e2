// Package origin decides whether a request origin is registered for an API key.
package origin

import (
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Policy matches hosts against origin patterns, caching compiled patterns
type Policy struct {
	cache sync.Map // pattern -> *regexp.Regexp
}

// NewPolicy creates an empty policy
func NewPolicy() *Policy {
	return &Policy{}
}

var defaultPolicy = NewPolicy()

// Matches reports whether host matches any pattern using a shared cache
func Matches(origins []string, host string) bool {
	return defaultPolicy.Matches(origins, host)
}

// Matches reports whether host matches any of origins. A pattern starting
// with "*." matches the apex domain and any subdomain depth below it.
func (p *Policy) Matches(origins []string, host string) bool {
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	for _, pattern := range origins {
		if p.compile(pattern).MatchString(host) {
			return true
		}
	}
	return false
}

// MatchesOrigin checks both the hostname of a raw Origin header and the
// header itself, so keys may register either form.
func (p *Policy) MatchesOrigin(origins []string, rawOrigin string) bool {
	rawOrigin = strings.TrimRight(strings.TrimSpace(rawOrigin), "/")
	if rawOrigin == "" {
		return false
	}
	return p.Matches(origins, Hostname(rawOrigin)) || p.Matches(origins, rawOrigin)
}

func (p *Policy) compile(pattern string) *regexp.Regexp {
	if re, ok := p.cache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}

	normalized := strings.ToLower(strings.TrimSpace(pattern))
	var expr string
	if rest, ok := strings.CutPrefix(normalized, "*."); ok {
		expr = `(.*\.)?` + regexp.QuoteMeta(rest)
	} else {
		expr = regexp.QuoteMeta(normalized)
	}

	re := regexp.MustCompile(`(?i)^` + expr + `$`)
	actual, _ := p.cache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp)
}

// Hostname extracts the host part of an origin, or returns it unchanged when
// it carries no scheme.
func Hostname(rawOrigin string) string {
	if !strings.Contains(rawOrigin, "://") {
		return rawOrigin
	}
	u, err := url.Parse(rawOrigin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
