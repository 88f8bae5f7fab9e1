// Package urlutil normalizes article URLs and derives their content identity.
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// trackingParams are query keys stripped during canonicalization, in addition
// to any key prefixed "utm_". Matched case-insensitively.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"igshid":   true,
	"mc_cid":   true,
	"mc_eid":   true,
	"mkt_tok":  true,
	"ref":      true,
	"ref_src":  true,
	"si":       true,
	"spm":      true,
	"sr_share": true,
	"ved":      true,
	"yclid":    true,
}

func isTrackingParam(key string) bool {
	lowered := strings.ToLower(key)
	if strings.HasPrefix(lowered, "utm_") {
		return true
	}
	return trackingParams[lowered]
}

// Canonicalize normalizes a raw article URL into its canonical form: fragment
// removed, tracking parameters dropped, remaining query parameters sorted by
// key, default ports stripped, and a single trailing slash removed from
// non-root paths.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrapf(err, "urlutil: parse %q", raw)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", eris.Errorf("urlutil: not an absolute URL: %q", raw)
	}

	u.Fragment = ""
	u.RawFragment = ""

	// Encode sorts keys lexicographically and keeps each key's values in
	// their original order.
	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			delete(q, key)
		}
	}
	u.RawQuery = q.Encode()

	if (u.Scheme == "https" && u.Port() == "443") || (u.Scheme == "http" && u.Port() == "80") {
		u.Host = u.Hostname()
	}

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// Hash returns the SHA-256 hex digest of a canonical URL. The digest is the
// article's ContentHash, its unique key across all stores.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
