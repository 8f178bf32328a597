package dispatch

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestSendTextPlain(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := sendText(rec, http.StatusOK, `{"ok":true}`, "application/json", false); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Fatalf("content type = %q", got)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatal("responses must be uncacheable")
	}
	if rec.Header().Get("Pragma") != "no-cache" || rec.Header().Get("Expires") != "0" {
		t.Fatal("missing no-cache headers")
	}
}

func TestSendTextGzip(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := sendText(rec, http.StatusOK, "payload", "text/plain", true); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("missing gzip content encoding")
	}
	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	decoded, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(decoded) != "payload" {
		t.Fatalf("decoded body = %q", decoded)
	}
}

func TestAcceptsGzip(t *testing.T) {
	cases := []struct {
		header string
		want   bool
	}{
		{"gzip", true},
		{"GZIP", true},
		{"deflate, gzip;q=0.8", true},
		{"br, deflate", false},
		{"supergzip", false},
		{"", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tc.header != "" {
			r.Header.Set("Accept-Encoding", tc.header)
		}
		if got := acceptsGzip(r); got != tc.want {
			t.Fatalf("acceptsGzip(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}
