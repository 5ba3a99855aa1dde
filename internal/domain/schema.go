package domain

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// storySchemaJSON is the JSON Schema for story payloads returned by the
// tracker. Embedded as a constant to avoid filesystem dependencies.
const storySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://storyline.dev/schemas/story.json",
  "type": "object",
  "required": ["id", "name", "project_id", "workflow_state_id", "updated_at"],
  "properties": {
    "id": { "type": "integer" },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "story_type": {
      "type": "string",
      "enum": ["feature", "bug", "chore"]
    },
    "estimate": {
      "type": ["integer", "null"],
      "minimum": 0
    },
    "project_id": { "type": "integer" },
    "epic_id": { "type": ["integer", "null"] },
    "workflow_state_id": { "type": "integer" },
    "labels": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "id": { "type": "integer" },
          "name": { "type": "string" },
          "archived": { "type": ["boolean", "string"] }
        }
      }
    },
    "app_url": { "type": "string" },
    "updated_at": { "type": "string", "minLength": 1 }
  }
}`

var storySchema = mustCompileStorySchema()

func mustCompileStorySchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(storySchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("unmarshal story schema: %v", err))
	}
	if err := c.AddResource("https://storyline.dev/schemas/story.json", doc); err != nil {
		panic(fmt.Sprintf("add story schema resource: %v", err))
	}
	s, err := c.Compile("https://storyline.dev/schemas/story.json")
	if err != nil {
		panic(fmt.Sprintf("compile story schema: %v", err))
	}
	return s
}

// ValidateStoryJSON checks that raw story JSON carries the fields the codec
// relies on. Violations are reported with their instance locations.
func ValidateStoryJSON(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("invalid story json: %w", err)
	}
	if err := storySchema.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return fmt.Errorf("invalid story: %w", err)
		}
		return fmt.Errorf("invalid story: %s", strings.Join(collectViolations(verr), "; "))
	}
	return nil
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
