package dispatch

import (
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// noCache marks every dispatcher response uncacheable.
func noCache(h http.Header) {
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-store")
	h.Set("Expires", "0")
}

// send writes an empty response with just the status.
func send(w http.ResponseWriter, status int) {
	noCache(w.Header())
	w.WriteHeader(status)
}

// sendText writes a text response, gzip-compressed when asked.
func sendText(w http.ResponseWriter, status int, text, contentType string, compress bool) error {
	noCache(w.Header())
	if contentType == "" {
		contentType = "text/plain"
	}
	w.Header().Set("Content-Type", contentType+"; charset=utf-8")
	if !compress {
		w.WriteHeader(status)
		_, err := w.Write([]byte(text))
		return err
	}
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(status)
	gz := gzip.NewWriter(w)
	if _, err := gz.Write([]byte(text)); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// acceptsGzip reports whether the client advertised gzip in any
// Accept-Encoding header. Matches whole tokens, not substrings.
func acceptsGzip(r *http.Request) bool {
	for _, header := range r.Header.Values("Accept-Encoding") {
		for _, token := range strings.Split(header, ",") {
			token = strings.TrimSpace(token)
			if i := strings.IndexByte(token, ';'); i >= 0 {
				token = strings.TrimSpace(token[:i])
			}
			if strings.EqualFold(token, "gzip") {
				return true
			}
		}
	}
	return false
}
