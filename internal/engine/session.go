// Package engine orchestrates the story editing session: fetch and decode,
// save with an optimistic-concurrency check, refresh, and the creation
// path. Operations run strictly one at a time; a session never interleaves
// remote calls, so no locking exists here. Callers that can be concurrent
// (the editor bridge) must serialize their calls.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"storyline/internal/client"
	"storyline/internal/codec"
	"storyline/internal/domain"
	"storyline/internal/refs"
	"storyline/internal/surface"
)

// State of the session document.
type State string

const (
	StateUnloaded State = "unloaded"
	StateClean    State = "clean"
	StateDirty    State = "dirty"
)

// Outcome of an operation. Conflict and unsaved-edits are refusals, not
// errors: normal negative results that leave the document untouched and
// require explicit user re-action.
type Outcome string

const (
	OutcomeLoaded       Outcome = "loaded"
	OutcomeSaved        Outcome = "saved"
	OutcomeConflict     Outcome = "conflict"
	OutcomeUnsavedEdits Outcome = "unsaved-edits"
)

// Session owns one story document for its lifetime. The reference cache is
// constructed with the session and torn down with it.
type Session struct {
	Client  *client.Client
	Cache   *refs.Cache
	Surface surface.Surface
	// NewKey mints idempotency keys for creates; defaults to random UUIDs.
	NewKey func() string

	storyID int
	token   string
	loaded  bool
}

// NewSession wires a session over the given transport and surface.
func NewSession(c *client.Client, sf surface.Surface) *Session {
	return &Session{
		Client:  c,
		Cache:   refs.NewCache(c),
		Surface: sf,
		NewKey:  uuid.NewString,
	}
}

// StoryID returns the id of the loaded story, 0 when unloaded.
func (s *Session) StoryID() int { return s.storyID }

// Token returns the conflict token captured at the last decode.
func (s *Session) Token() string { return s.token }

// State reports the current document state. Dirtiness is owned by the
// editing surface, not the engine.
func (s *Session) State() State {
	if !s.loaded {
		return StateUnloaded
	}
	if s.Surface.Modified() {
		return StateDirty
	}
	return StateClean
}

// Load fetches a story, decodes it into the surface, and captures the
// conflict token. The document comes up clean.
func (s *Session) Load(ctx context.Context, id int) error {
	story, err := s.Client.Story(ctx, id)
	if err != nil {
		return err
	}
	return s.install(ctx, story)
}

// Adopt re-enters a session from previously decoded document text: the
// story id and conflict token are parsed back out of the metadata block and
// the document is treated as dirty. This is how the CLI saves a document
// edited outside a live session.
func (s *Session) Adopt(text string) error {
	p, err := codec.Parse(text)
	if err != nil {
		return err
	}
	if p.Token() == "" {
		return fmt.Errorf("adopt: document has no %s token", codec.KeyLastUpdated)
	}
	if err := s.Surface.SetText(text); err != nil {
		return err
	}
	if err := s.Surface.SetModified(true); err != nil {
		return err
	}
	s.storyID = p.ID
	s.token = p.Token()
	s.loaded = true
	return nil
}

// Save pushes local edits. It refetches the remote story first and compares
// conflict tokens lexicographically: a strictly newer remote token refuses
// the save and leaves the document dirty; no merge is attempted. On
// success the server response is re-decoded and becomes the new state.
func (s *Session) Save(ctx context.Context) (Outcome, error) {
	if !s.loaded {
		return "", fmt.Errorf("save: no story loaded")
	}
	if !s.Surface.Modified() {
		// Clean document: saving is a no-op refresh.
		if err := s.Load(ctx, s.storyID); err != nil {
			return "", err
		}
		return OutcomeLoaded, nil
	}
	remote, err := s.Client.Story(ctx, s.storyID)
	if err != nil {
		return "", err
	}
	if strings.Compare(remote.UpdatedAt, s.token) > 0 {
		s.Surface.Notify(fmt.Sprintf(
			"story %d changed remotely (%s > %s); save refused, local edits kept",
			s.storyID, remote.UpdatedAt, s.token))
		return OutcomeConflict, nil
	}
	upd, err := codec.Encode(ctx, s.Surface.Text(), refs.StateResolver{Cache: s.Cache})
	if err != nil {
		return "", err
	}
	saved, err := s.Client.UpdateStory(ctx, s.storyID, upd)
	if err != nil {
		return "", err
	}
	if err := s.install(ctx, saved); err != nil {
		return "", err
	}
	return OutcomeSaved, nil
}

// Refresh re-loads the story. Without force it refuses when local edits
// would be discarded.
func (s *Session) Refresh(ctx context.Context, force bool) (Outcome, error) {
	if !s.loaded {
		return "", fmt.Errorf("refresh: no story loaded")
	}
	if s.Surface.Modified() && !force {
		s.Surface.Notify(fmt.Sprintf("story %d has unsaved local edits; refresh with force to discard them", s.storyID))
		return OutcomeUnsavedEdits, nil
	}
	if err := s.Load(ctx, s.storyID); err != nil {
		return "", err
	}
	return OutcomeLoaded, nil
}

// CreateOpts parameterizes Create. Zero-valued fields are prompted for
// through the editing surface.
type CreateOpts struct {
	StoryType string
	ProjectID int
	Labels    []string
	LogMarker string
}

// Create runs the creation variant of the codec over a user-authored
// section and submits it. It returns the created story; the caller records
// the canonical URL against the originating context. No document session
// starts here; there is no further edit cycle in this flow.
func (s *Session) Create(ctx context.Context, section string, opts CreateOpts) (domain.Story, error) {
	if opts.ProjectID == 0 {
		projects, err := s.Cache.Get(ctx, refs.KindProject)
		if err != nil {
			return domain.Story{}, err
		}
		if len(projects) == 0 {
			return domain.Story{}, fmt.Errorf("create: no projects available")
		}
		idx, err := s.Surface.Choose("Project for the new story:", projects.Names())
		if err != nil {
			return domain.Story{}, err
		}
		opts.ProjectID = projects[idx].ID
	}
	if opts.StoryType == "" {
		types := []string{domain.TypeFeature, domain.TypeBug, domain.TypeChore}
		idx, err := s.Surface.Choose("Story type:", types)
		if err != nil {
			return domain.Story{}, err
		}
		opts.StoryType = types[idx]
	}
	params, err := codec.EncodeCreate(section, codec.CreateOpts{
		StoryType: opts.StoryType,
		ProjectID: opts.ProjectID,
		Labels:    opts.Labels,
		LogMarker: opts.LogMarker,
	})
	if err != nil {
		return domain.Story{}, err
	}
	key := ""
	if s.NewKey != nil {
		key = s.NewKey()
	}
	story, err := s.Client.CreateStory(ctx, params, key)
	if err != nil {
		return domain.Story{}, err
	}
	s.Surface.Notify(fmt.Sprintf("created story %d: %s", story.ID, story.AppURL))
	return story, nil
}

// install decodes a story into the surface and captures its token.
func (s *Session) install(ctx context.Context, story domain.Story) error {
	text, err := codec.Decode(ctx, story, s.Cache)
	if err != nil {
		return err
	}
	if err := s.Surface.SetText(text); err != nil {
		return err
	}
	if err := s.Surface.SetModified(false); err != nil {
		return err
	}
	s.storyID = story.ID
	s.token = story.UpdatedAt
	s.loaded = true
	return nil
}
