package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPush_SendsUserAndText(t *testing.T) {
	var got pushRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/push" {
			t.Errorf("path = %s, want /api/push", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	if err := c.Push(context.Background(), 42, "привет"); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if got.UserID != 42 || got.Text != "привет" {
		t.Fatalf("push payload = %+v", got)
	}
}

func TestPush_NotConfigured(t *testing.T) {
	c := NewClient("")

	if err := c.Push(context.Background(), 1, "msg"); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}

func TestPush_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	if err := c.Push(context.Background(), 1, "msg"); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}
