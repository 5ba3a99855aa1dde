package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Story type values accepted by the tracker.
const (
	TypeFeature = "feature"
	TypeBug     = "bug"
	TypeChore   = "chore"
)

// Story is the remote resource being synchronized. It is authoritative:
// the sync engine never mutates one, it only submits candidate changes.
type Story struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	StoryType       string  `json:"story_type"`
	Estimate        *int    `json:"estimate,omitempty"`
	ProjectID       int     `json:"project_id"`
	EpicID          *int    `json:"epic_id,omitempty"`
	WorkflowStateID int     `json:"workflow_state_id"`
	Labels          []Label `json:"labels,omitempty"`
	AppURL          string  `json:"app_url"`
	// UpdatedAt is an opaque, lexicographically ordered token. It is never
	// parsed as a time; it is compared as a string to detect conflicts.
	UpdatedAt string `json:"updated_at"`
}

// LabelNames returns the label names in source order.
func (s Story) LabelNames() []string {
	names := make([]string, 0, len(s.Labels))
	for _, l := range s.Labels {
		names = append(names, l.Name)
	}
	return names
}

type Label struct {
	ID       int    `json:"id,omitempty"`
	Name     string `json:"name"`
	Archived Flag   `json:"archived,omitempty"`
}

// LabelParam names a label in create/update payloads. The tracker creates
// labels that do not exist yet.
type LabelParam struct {
	Name string `json:"name"`
}

// StoryUpdate is a partial-update payload. Fields left nil are omitted and
// remain unchanged server-side; they are never submitted as null.
type StoryUpdate struct {
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	StoryType       string       `json:"story_type"`
	Estimate        *int         `json:"estimate,omitempty"`
	EpicID          *int         `json:"epic_id,omitempty"`
	WorkflowStateID int          `json:"workflow_state_id"`
	Labels          []LabelParam `json:"labels"`
}

// StoryCreate is the payload for the creation path.
type StoryCreate struct {
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	StoryType       string       `json:"story_type"`
	ProjectID       int          `json:"project_id"`
	WorkflowStateID int          `json:"workflow_state_id,omitempty"`
	Labels          []LabelParam `json:"labels,omitempty"`
}

// Workflow is a named container of ordered states. Workflows are cached
// nested; consumers flatten them through the state resolver.
type Workflow struct {
	ID     int             `json:"id"`
	Name   string          `json:"name"`
	States []WorkflowState `json:"states"`
}

type WorkflowState struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Flag is a truthy tri-state: absent, native boolean true, or the service's
// string sentinel "true". Anything else reads as false.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", `"true"`:
		*f = true
	default:
		*f = false
	}
	return nil
}

func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}

// DecodeStory validates raw story JSON against the embedded schema and
// unmarshals it. Resources missing required fields are rejected here rather
// than surfacing as zero values deep in the codec.
func DecodeStory(raw []byte) (Story, error) {
	if err := ValidateStoryJSON(raw); err != nil {
		return Story{}, err
	}
	var s Story
	if err := json.Unmarshal(raw, &s); err != nil {
		return Story{}, fmt.Errorf("unmarshal story: %w", err)
	}
	return s, nil
}
