// Package server exposes the sync engine over a localhost HTTP API so
// editor plugins can drive it without linking Go. One session exists per
// story; all engine calls are serialized behind a single mutex so two saves
// can never race past the conflict check.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"storyline/internal/client"
	"storyline/internal/engine"
	"storyline/internal/refs"
	"storyline/internal/surface"
)

// Config for the bridge handler.
type Config struct {
	Client    *client.Client
	BasePath  string
	LogMarker string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"resolution_failed"`
	Message string         `json:"message" example:"no workflow state matches \"Shipped\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// Bridge serves the editor-facing API over a shared session table. All
// sessions share one reference cache so listings stay consistent with
// decode results.
type Bridge struct {
	cfg Config

	mu       sync.Mutex
	cache    *refs.Cache
	sessions map[int]*engine.Session
}

// New returns an HTTP handler exposing the bridge API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Client == nil {
		return nil, errors.New("server: client is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	b := &Bridge{
		cfg:      cfg,
		cache:    refs.NewCache(cfg.Client),
		sessions: make(map[int]*engine.Session),
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Storyline Bridge", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	b.registerDocument(group)
	b.registerSave(group)
	b.registerRefresh(group)
	b.registerCreate(group)
	b.registerRefs(group)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadGateway:
		return "upstream_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// handleError maps collaborator failures onto the error envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return newAPIError(http.StatusBadGateway, "upstream_error", apiErr.Error(), map[string]any{
			"method": apiErr.Method,
			"path":   apiErr.Path,
			"status": apiErr.StatusCode,
			"body":   apiErr.Body,
		})
	}
	var resErr refs.ResolutionError
	if errors.As(err, &resErr) {
		return newAPIError(http.StatusUnprocessableEntity, "resolution_failed", resErr.Error(), nil)
	}
	if errors.Is(err, client.ErrDryRun) {
		return newAPIError(http.StatusAccepted, "dry_run", err.Error(), nil)
	}
	return newAPIError(http.StatusBadRequest, "", err.Error(), nil)
}

// session returns the per-story session, creating it on first use. Callers
// must hold b.mu.
func (b *Bridge) session(id int) *engine.Session {
	if s, ok := b.sessions[id]; ok {
		return s
	}
	s := engine.NewSession(b.cfg.Client, &surface.Memory{})
	s.Cache = b.cache
	b.sessions[id] = s
	return s
}

type documentBody struct {
	Text    string `json:"text"`
	State   string `json:"state" enum:"unloaded,clean,dirty"`
	Token   string `json:"token"`
	Outcome string `json:"outcome,omitempty"`
}

type documentOutput struct {
	Body documentBody `json:"body"`
}

func (b *Bridge) document(s *engine.Session, outcome engine.Outcome) documentBody {
	return documentBody{
		Text:    s.Surface.Text(),
		State:   string(s.State()),
		Token:   s.Token(),
		Outcome: string(outcome),
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type storyPath struct {
	StoryID int `path:"story_id"`
}

func (b *Bridge) registerDocument(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/stories/{story_id}/document",
		Summary:     "Load a story as an editable document",
	}, func(ctx context.Context, input *storyPath) (*documentOutput, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		s := b.session(input.StoryID)
		if err := s.Load(ctx, input.StoryID); err != nil {
			return nil, handleError(err)
		}
		return &documentOutput{Body: b.document(s, engine.OutcomeLoaded)}, nil
	})
}

func (b *Bridge) registerSave(api huma.API) {
	type saveInput struct {
		StoryID int `path:"story_id"`
		Body    struct {
			Text string `json:"text"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "save-document",
		Method:      http.MethodPost,
		Path:        "/stories/{story_id}/document",
		Summary:     "Save edited document text back to the tracker",
	}, func(ctx context.Context, input *saveInput) (*documentOutput, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		s := b.session(input.StoryID)
		if err := s.Adopt(input.Body.Text); err != nil {
			return nil, handleError(err)
		}
		outcome, err := s.Save(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentOutput{Body: b.document(s, outcome)}, nil
	})
}

func (b *Bridge) registerRefresh(api huma.API) {
	type refreshInput struct {
		StoryID int `path:"story_id"`
		Body    struct {
			Force bool `json:"force,omitempty"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "refresh-document",
		Method:      http.MethodPost,
		Path:        "/stories/{story_id}/refresh",
		Summary:     "Re-load the story, refusing if unsaved edits exist",
	}, func(ctx context.Context, input *refreshInput) (*documentOutput, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		s := b.session(input.StoryID)
		outcome, err := s.Refresh(ctx, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentOutput{Body: b.document(s, outcome)}, nil
	})
}

func (b *Bridge) registerCreate(api huma.API) {
	type createInput struct {
		Body struct {
			Section   string   `json:"section"`
			StoryType string   `json:"story_type,omitempty" enum:"feature,bug,chore"`
			ProjectID int      `json:"project_id,omitempty"`
			Labels    []string `json:"labels,omitempty"`
		} `json:"body"`
	}
	type createOutput struct {
		Body struct {
			ID     int    `json:"id"`
			Name   string `json:"name"`
			AppURL string `json:"app_url"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "create-story",
		Method:      http.MethodPost,
		Path:        "/stories",
		Summary:     "Create a story from a user-authored section",
	}, func(ctx context.Context, input *createInput) (*createOutput, error) {
		if input.Body.ProjectID == 0 || input.Body.StoryType == "" {
			// The bridge cannot prompt; the plugin supplies both.
			return nil, newAPIError(http.StatusBadRequest, "", "project_id and story_type are required", nil)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		s := engine.NewSession(b.cfg.Client, &surface.Memory{})
		s.Cache = b.cache
		story, err := s.Create(ctx, input.Body.Section, engine.CreateOpts{
			StoryType: input.Body.StoryType,
			ProjectID: input.Body.ProjectID,
			Labels:    input.Body.Labels,
			LogMarker: b.cfg.LogMarker,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &createOutput{}
		out.Body.ID = story.ID
		out.Body.Name = story.Name
		out.Body.AppURL = story.AppURL
		return out, nil
	})
}

func (b *Bridge) registerRefs(api huma.API) {
	type refsOutput struct {
		Body struct {
			Items []refs.Pair `json:"items"`
		} `json:"body"`
	}
	type refsInput struct {
		Kind    string `path:"kind" enum:"project,epic,label"`
		Refresh bool   `query:"refresh"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-refs",
		Method:      http.MethodGet,
		Path:        "/refs/{kind}",
		Summary:     "List a reference collection for prompting",
	}, func(ctx context.Context, input *refsInput) (*refsOutput, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		cache := b.cache
		var (
			pairs refs.Pairs
			err   error
		)
		if input.Refresh {
			pairs, err = cache.Refresh(ctx, refs.Kind(input.Kind))
		} else {
			pairs, err = cache.Get(ctx, refs.Kind(input.Kind))
		}
		if err != nil {
			return nil, handleError(err)
		}
		out := &refsOutput{}
		out.Body.Items = pairs
		return out, nil
	})
}
