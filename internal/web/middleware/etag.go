package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// WeakETag derives a weak validator from a response body.
func WeakETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `W/"` + hex.EncodeToString(sum[:16]) + `"`
}

// parseIfNoneMatch splits an If-None-Match header into its entity tags.
func parseIfNoneMatch(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	if header == "*" {
		return []string{"*"}
	}
	var tags []string
	for _, part := range strings.Split(header, ",") {
		if t := strings.TrimSpace(part); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// matchesETag uses the weak comparison: W/ prefixes are ignored.
func matchesETag(etag string, tags []string) bool {
	clean := func(s string) string { return strings.Trim(strings.TrimPrefix(s, "W/"), `"`) }
	for _, t := range tags {
		if t == "*" || clean(t) == clean(etag) {
			return true
		}
	}
	return false
}

type bufferedWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (bw *bufferedWriter) WriteHeader(status int) {
	if bw.status == 0 {
		bw.status = status
	}
}

func (bw *bufferedWriter) Write(b []byte) (int, error) {
	if bw.status == 0 {
		bw.status = http.StatusOK
	}
	return bw.buf.Write(b)
}

// ETag answers conditional GETs. Successful GET responses are buffered and
// tagged (a handler supplied ETag wins); a matching If-None-Match turns the
// response into 304 without a body. Streaming endpoints belong in skipPaths.
func ETag(skipPaths ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			for _, p := range skipPaths {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			bw := &bufferedWriter{ResponseWriter: w}
			next.ServeHTTP(bw, r)
			if bw.status == 0 {
				bw.status = http.StatusOK
			}
			if bw.status != http.StatusOK {
				w.WriteHeader(bw.status)
				_, _ = w.Write(bw.buf.Bytes())
				return
			}

			etag := w.Header().Get("ETag")
			if etag == "" {
				etag = WeakETag(bw.buf.Bytes())
				w.Header().Set("ETag", etag)
			}
			if matchesETag(etag, parseIfNoneMatch(r.Header.Get("If-None-Match"))) {
				w.Header().Del("Content-Type")
				w.Header().Del("Content-Length")
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(bw.buf.Bytes())
		})
	}
}
