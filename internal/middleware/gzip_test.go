package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func gzipTestHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("received: " + string(body)))
}

func TestGzipMiddleware_CompressesResponse(t *testing.T) {
	handler := GzipMiddleware(http.HandlerFunc(gzipTestHandler))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("test request"))
	req.Header.Set("Accept-Encoding", "gzip")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("content-encoding = %q, want gzip", res.Header.Get("Content-Encoding"))
	}

	gr, err := gzip.NewReader(res.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	if string(body) != "received: test request" {
		t.Fatalf("body = %q", body)
	}
}

func TestGzipMiddleware_DecompressesRequest(t *testing.T) {
	handler := GzipMiddleware(http.HandlerFunc(gzipTestHandler))

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte("compressed request")); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Encoding", "gzip")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if string(body) != "received: compressed request" {
		t.Fatalf("body = %q", body)
	}
}

func TestGzipMiddleware_PassThroughWithoutAcceptEncoding(t *testing.T) {
	handler := GzipMiddleware(http.HandlerFunc(gzipTestHandler))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("plain request"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.Header.Get("Content-Encoding") != "" {
		t.Fatalf("content-encoding = %q, want empty", res.Header.Get("Content-Encoding"))
	}

	body, _ := io.ReadAll(res.Body)
	if string(body) != "received: plain request" {
		t.Fatalf("body = %q", body)
	}
}
