package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"supportops/internal/services"
)

func TestHTTPExecutor_PostsRenderedBody(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(5 * time.Second)
	outcome, err := exec.Execute(context.Background(), &services.ActionRequest{
		Params: map[string]interface{}{
			"url":  srv.URL,
			"text": "ticket {ticket_id} escalated",
		},
		Credentials:   map[string]interface{}{"token": "tok-123"},
		TriggerFields: map[string]interface{}{"ticket_id": float64(7)},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("outcome not successful: %s", outcome.Message)
	}
	if gotBody["text"] != "ticket 7 escalated" {
		t.Fatalf("body text = %v", gotBody["text"])
	}
	if _, hasURL := gotBody["url"]; hasURL {
		t.Fatal("url param must not be forwarded in the body")
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if outcome.Data["status_code"] != http.StatusOK {
		t.Fatalf("status_code = %v", outcome.Data["status_code"])
	}
}

func TestHTTPExecutor_URLFromCredentials(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(5 * time.Second)
	outcome, err := exec.Execute(context.Background(), &services.ActionRequest{
		Params:      map[string]interface{}{"text": "hello"},
		Credentials: map[string]interface{}{"webhook_url": srv.URL},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !called || !outcome.Success {
		t.Fatalf("called=%v success=%v", called, outcome.Success)
	}
}

func TestHTTPExecutor_RemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(5 * time.Second)
	outcome, err := exec.Execute(context.Background(), &services.ActionRequest{
		Params: map[string]interface{}{"url": srv.URL},
	})
	if err != nil {
		t.Fatalf("non-2xx should not be a transport error: %v", err)
	}
	if outcome.Success {
		t.Fatal("expected unsuccessful outcome for 502")
	}
}

func TestHTTPExecutor_MissingURL(t *testing.T) {
	exec := NewHTTPExecutor(5 * time.Second)
	if _, err := exec.Execute(context.Background(), &services.ActionRequest{
		Params: map[string]interface{}{"text": "hello"},
	}); err == nil {
		t.Fatal("expected error when no url is configured")
	}
}
