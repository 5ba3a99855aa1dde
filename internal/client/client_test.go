package client_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storyline/internal/client"
	"storyline/internal/credentials"
	"storyline/internal/domain"
)

const storyJSON = `{
	"id": 42,
	"name": "Fix bug",
	"description": "body",
	"story_type": "bug",
	"project_id": 100,
	"workflow_state_id": 501,
	"app_url": "https://tracker.example/story/42",
	"updated_at": "2023-01-01T00:00:00Z"
}`

func TestStoryBearerAuth(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(storyJSON))
	}))
	defer srv.Close()

	c := client.New(srv.URL, credentials.Static("secret"))
	story, err := c.Story(context.Background(), 42)
	if err != nil {
		t.Fatalf("story: %v", err)
	}
	if story.ID != 42 || story.UpdatedAt != "2023-01-01T00:00:00Z" {
		t.Fatalf("story = %+v", story)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotPath != "/stories/42" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestStoryRejectsInvalidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Missing required fields.
		w.Write([]byte(`{"id": 42}`))
	}))
	defer srv.Close()

	if _, err := client.New(srv.URL, nil).Story(context.Background(), 42); err == nil {
		t.Fatalf("invalid payload accepted")
	}
}

func TestAPIErrorCarriesRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"not allowed"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := client.New(srv.URL, nil)
	_, err := c.UpdateStory(context.Background(), 7, domain.StoryUpdate{Name: "x"})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want *APIError, got %v", err)
	}
	if apiErr.Method != http.MethodPut || apiErr.Path != "stories/7" {
		t.Fatalf("request context = %s %s", apiErr.Method, apiErr.Path)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "not allowed") {
		t.Fatalf("body = %q", apiErr.Body)
	}
	if !strings.Contains(apiErr.RequestBody, `"name":"x"`) {
		t.Fatalf("request body = %q", apiErr.RequestBody)
	}
}

func TestDryRunSendsNothing(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.Write([]byte(storyJSON))
	}))
	defer srv.Close()

	var logged bytes.Buffer
	c := client.New(srv.URL, nil)
	c.DryRun = true
	c.Logger = log.New(&logged, "", 0)

	_, err := c.UpdateStory(context.Background(), 42, domain.StoryUpdate{Name: "x"})
	if !errors.Is(err, client.ErrDryRun) {
		t.Fatalf("want ErrDryRun, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("dry-run update reached the server")
	}
	if !strings.Contains(logged.String(), "PUT stories/42") {
		t.Fatalf("logged = %q", logged.String())
	}

	// Reads still go through.
	if _, err := c.Story(context.Background(), 42); err != nil {
		t.Fatalf("dry-run read: %v", err)
	}
	if hits != 1 {
		t.Fatalf("read hits = %d", hits)
	}
}

func TestCreateStoryIdempotencyKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		w.Write([]byte(storyJSON))
	}))
	defer srv.Close()

	c := client.New(srv.URL, nil)
	params := domain.StoryCreate{Name: "x", StoryType: domain.TypeChore, ProjectID: 1}
	if _, err := c.CreateStory(context.Background(), params, "key-123"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotKey != "key-123" {
		t.Fatalf("idempotency key = %q", gotKey)
	}
	if _, err := c.CreateStory(context.Background(), params, ""); err != nil {
		t.Fatalf("create without key: %v", err)
	}
	if gotKey != "" {
		t.Fatalf("empty key still sent header %q", gotKey)
	}
}

func TestListResources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"id": 1, "name": "Backend"}]`))
	}))
	defer srv.Close()

	items, err := client.New(srv.URL, nil).ListResources(context.Background(), "projects")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0]["name"] != "Backend" {
		t.Fatalf("items = %v", items)
	}
}
