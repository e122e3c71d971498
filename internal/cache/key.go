package cache

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/vidsum/vidsum-api/internal/idgen"
)

// NormalizeURL lowercases scheme and host, drops the fragment, sorts
// query parameters, and strips any tracking-only parameters named in
// strip. The result is used only as a fallback cache-key input and for
// display (source_ref); it never changes meaning based on per-request
// overrides.
func NormalizeURL(raw string, strip []string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if len(strip) > 0 {
		q := u.Query()
		for _, key := range strip {
			q.Del(key)
		}
		u.RawQuery = q.Encode()
	}

	q := u.Query()
	if len(q) > 0 {
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
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
	return u.String(), nil
}

// KeyForURL returns the cache_key for a URL source. When extractor and
// videoID are known (probing succeeded), it prefers the stable
// extractor/video-id identity over the normalized URL text.
func KeyForURL(extractor, videoID, normalizedURL string, profileVersion int) string {
	if extractor != "" && videoID != "" {
		return idgen.SHA256HexString("url:" + extractor + ":" + videoID + ":" + strconv.Itoa(profileVersion))
	}
	return idgen.SHA256HexString("url:" + normalizedURL + ":" + strconv.Itoa(profileVersion))
}

// KeyForLocal returns the cache_key for a local (uploaded-file) source,
// derived solely from the file's content hash and profile_version.
func KeyForLocal(fileHash string, profileVersion int) string {
	return idgen.SHA256HexString("file:" + fileHash + ":" + strconv.Itoa(profileVersion))
}
