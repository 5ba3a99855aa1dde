package codec_test

import (
	"strings"
	"testing"

	"storyline/internal/codec"
	"storyline/internal/domain"
)

func TestEncodeCreate(t *testing.T) {
	section := strings.Join([]string{
		"== Add retry to uploader",
		"",
		"Uploads fail on flaky networks.",
		"",
		"* retry three times",
		"",
		"## Activity",
		"2023-01-01 filed by alice",
	}, "\n")
	params, err := codec.EncodeCreate(section, codec.CreateOpts{
		StoryType:       domain.TypeBug,
		ProjectID:       100,
		WorkflowStateID: 500,
		Labels:          []string{"infra", " flaky "},
	})
	if err != nil {
		t.Fatalf("encode create: %v", err)
	}
	if params.Name != "Add retry to uploader" {
		t.Fatalf("name = %q", params.Name)
	}
	if strings.Contains(params.Description, "Activity") {
		t.Fatalf("log sub-section not truncated:\n%s", params.Description)
	}
	if !strings.Contains(params.Description, "- retry three times") {
		t.Fatalf("bullet not converted:\n%s", params.Description)
	}
	if params.StoryType != domain.TypeBug || params.ProjectID != 100 || params.WorkflowStateID != 500 {
		t.Fatalf("params = %+v", params)
	}
	if len(params.Labels) != 2 || params.Labels[1].Name != "flaky" {
		t.Fatalf("labels = %v", params.Labels)
	}
}

func TestEncodeCreateDefaults(t *testing.T) {
	params, err := codec.EncodeCreate("Plain heading\nbody", codec.CreateOpts{ProjectID: 1})
	if err != nil {
		t.Fatalf("encode create: %v", err)
	}
	if params.StoryType != domain.TypeFeature {
		t.Fatalf("default story type = %q", params.StoryType)
	}
}

func TestEncodeCreateRejects(t *testing.T) {
	if _, err := codec.EncodeCreate("\n  \n", codec.CreateOpts{ProjectID: 1}); err == nil {
		t.Fatalf("empty section accepted")
	}
	if _, err := codec.EncodeCreate("== ==\nbody", codec.CreateOpts{ProjectID: 1}); err == nil {
		t.Fatalf("empty heading accepted")
	}
	if _, err := codec.EncodeCreate("heading\nbody", codec.CreateOpts{}); err == nil {
		t.Fatalf("missing project accepted")
	}
}
