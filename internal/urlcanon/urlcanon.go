// Package urlcanon canonicalizes URLs for dedupe keying, hash_url
// computation, and signal-corroboration matching. Canonicalize is
// idempotent: Canonicalize(Canonicalize(u)) == Canonicalize(u).
package urlcanon

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query keys stripped because they carry no content
// identity, only attribution.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "utm_id": true,
	"fbclid": true, "gclid": true, "msclkid": true, "mc_cid": true, "mc_eid": true,
	"ref": true, "ref_src": true, "source": true, "igshid": true, "spm": true,
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Canonicalize normalizes scheme/host case, drops default ports, removes
// the fragment and known tracking parameters, sorts remaining query keys,
// and strips a trailing slash (except for the root path). Malformed input
// is returned unchanged, matching the teacher's NormalizeURL fallback
// behavior.
func Canonicalize(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = lowerHost(parsed.Host, parsed.Scheme)

	query := parsed.Query()
	for param := range query {
		if trackingParams[strings.ToLower(param)] {
			query.Del(param)
		}
	}
	parsed.RawQuery = encodeSorted(query)
	parsed.Fragment = ""

	if parsed.Path != "" && parsed.Path != "/" {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	return parsed.String()
}

// Hash returns the stable SHA-256 hex digest of a canonicalized URL, used
// for hash_url uniqueness and signal-corroboration matching.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(Canonicalize(raw)))
	return hex.EncodeToString(sum[:])
}

func lowerHost(host, scheme string) string {
	h := strings.ToLower(host)
	if idx := strings.LastIndex(h, ":"); idx != -1 {
		port := h[idx+1:]
		if defaultPorts[scheme] == port {
			return h[:idx]
		}
	}
	return h
}

func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for j, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
			_ = i
			_ = j
		}
	}
	return b.String()
}
