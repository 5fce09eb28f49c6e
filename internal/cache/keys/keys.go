// Package keys derives cache keys for feature-info responses.
package keys

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "gfi"

// Key is gfi:<endpoint>:e<epoch>:u=<xxhash of the normalised url>. Bumping the
// endpoint epoch makes every earlier key for that endpoint unreachable.
func Key(endpoint string, epoch uint64, rawURL string) string {
	sum := xxhash.Sum64String(normalizeURL(rawURL))
	return fmt.Sprintf("%se%d:u=%016x", EndpointPrefix(endpoint), epoch, sum)
}

// EndpointPrefix is shared by every key of endpoint across all epochs. It
// never contains glob metacharacters.
func EndpointPrefix(endpoint string) string {
	ep := sanitize(endpoint)

	const maxEndpointLen = 120
	if len(ep) > maxEndpointLen {
		ep = ep[:maxEndpointLen]
	}
	return prefix + ":" + ep + ":"
}

// Endpoint reduces a request url to host and path, the unit that invalidation
// events address.
func Endpoint(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(rawURL))
	}
	return strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
}

// query params are re-encoded so parameter order does not change the key
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	q := u.Query()
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// any other rune, including ':' and '/', becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
