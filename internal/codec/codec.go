// Package codec transforms between remote stories and the local editable
// document: a title line, a metadata block of key/value pairs, and the
// description body inside a fenced markdown block.
package codec

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"storyline/internal/domain"
	"storyline/internal/refs"
)

// Metadata keys, in the fixed order they are rendered.
const (
	KeyType        = "Type"
	KeyID          = "Id"
	KeyURL         = "Url"
	KeyProject     = "Project"
	KeyStoryType   = "StoryType"
	KeyEstimate    = "Estimate"
	KeyEpic        = "Epic"
	KeyState       = "State"
	KeyLabels      = "Labels"
	KeyLastUpdated = "LastUpdated"
)

const (
	docType     = "story"
	fenceOpen   = "```markdown"
	fenceClose  = "```"
	descHeading = "Description:"
	bodyQuote   = "  "
)

// Decode renders a story as document text. Project and epic are resolved to
// "id: name" via the reference cache; the workflow state renders as its
// name, or empty when it cannot be resolved. The LastUpdated field carries
// the remote token verbatim and becomes the conflict token.
func Decode(ctx context.Context, story domain.Story, cache *refs.Cache) (string, error) {
	projects, err := cache.Get(ctx, refs.KindProject)
	if err != nil {
		return "", err
	}
	project, ok := projects.ByID(story.ProjectID)
	if !ok {
		// A valid story always references a known project; reaching this
		// means the story or the cache extraction is broken.
		return "", fmt.Errorf("decode story %d: project %d missing from reference cache", story.ID, story.ProjectID)
	}
	epic := ""
	if story.EpicID != nil {
		epics, err := cache.Get(ctx, refs.KindEpic)
		if err != nil {
			return "", err
		}
		if e, ok := epics.ByID(*story.EpicID); ok {
			epic = e.String()
		} else {
			return "", fmt.Errorf("decode story %d: epic %d missing from reference cache", story.ID, *story.EpicID)
		}
	}
	state := ""
	if st, ok, err := (refs.StateResolver{Cache: cache}).StateByID(ctx, story.WorkflowStateID); err != nil {
		return "", err
	} else if ok {
		state = st.Name
	}
	estimate := ""
	if story.Estimate != nil {
		estimate = strconv.Itoa(*story.Estimate)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d: %s\n\n", story.ID, story.Name)
	writeField(&b, KeyType, docType)
	writeField(&b, KeyID, strconv.Itoa(story.ID))
	writeField(&b, KeyURL, story.AppURL)
	writeField(&b, KeyProject, project.String())
	writeField(&b, KeyStoryType, story.StoryType)
	writeField(&b, KeyEstimate, estimate)
	writeField(&b, KeyEpic, epic)
	writeField(&b, KeyState, state)
	writeField(&b, KeyLabels, strings.Join(story.LabelNames(), ", "))
	writeField(&b, KeyLastUpdated, story.UpdatedAt)
	b.WriteString("\n" + descHeading + "\n")
	b.WriteString(fenceOpen + "\n")
	for _, line := range strings.Split(story.Description, "\n") {
		b.WriteString(quoteBodyLine(line) + "\n")
	}
	b.WriteString(fenceClose + "\n")
	return b.String(), nil
}

// quoteBodyLine prefixes body prose with two spaces so the block reads as
// quoted. Lines that would become whitespace-only are emitted empty instead
// of carrying trailing whitespace.
func quoteBodyLine(line string) string {
	if strings.TrimSpace(line) == "" {
		return ""
	}
	return bodyQuote + line
}

func writeField(b *strings.Builder, key, value string) {
	if value == "" {
		b.WriteString(key + ":\n")
		return
	}
	b.WriteString(key + ": " + value + "\n")
}

// Parsed is the raw structure pulled back out of document text.
type Parsed struct {
	ID          int
	Name        string
	Fields      map[string]string
	Description string
}

// Token returns the conflict token captured at decode time. It is carried
// verbatim in the metadata block and never rewritten by hand.
func (p Parsed) Token() string {
	return p.Fields[KeyLastUpdated]
}

var titleRe = regexp.MustCompile(`^\s*(\d+):\s*(.*)$`)

// Parse splits document text into title, metadata fields, and the raw body
// of the fenced block. The two-space quoting applied at decode time is left
// in place; the round trip is intentionally asymmetric at the text level.
func Parse(text string) (Parsed, error) {
	lines := strings.Split(text, "\n")
	p := Parsed{Fields: make(map[string]string)}

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i == len(lines) {
		return Parsed{}, fmt.Errorf("empty document")
	}
	m := titleRe.FindStringSubmatch(lines[i])
	if m == nil {
		return Parsed{}, fmt.Errorf("title line %q: want \"<id>: <name>\"", lines[i])
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return Parsed{}, fmt.Errorf("title id: %w", err)
	}
	p.ID = id
	p.Name = m[2]
	i++

	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line == descHeading {
			i++
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Parsed{}, fmt.Errorf("metadata line %q: want \"Key: value\"", line)
		}
		p.Fields[key] = strings.TrimPrefix(value, " ")
	}

	for i < len(lines) && lines[i] != fenceOpen {
		i++
	}
	if i == len(lines) {
		return Parsed{}, fmt.Errorf("description fence %q not found", fenceOpen)
	}
	i++
	var body []string
	for ; i < len(lines) && lines[i] != fenceClose; i++ {
		body = append(body, lines[i])
	}
	if i == len(lines) {
		return Parsed{}, fmt.Errorf("description fence not closed")
	}
	p.Description = strings.Join(body, "\n")
	return p, nil
}

// Encode extracts an update payload from edited document text. The workflow
// state is resolved by name; a name that matches no known state aborts the
// save rather than submitting an invalid id. Empty estimate and epic fields
// are omitted so the server leaves them unchanged.
func Encode(ctx context.Context, text string, resolver refs.StateResolver) (domain.StoryUpdate, error) {
	p, err := Parse(text)
	if err != nil {
		return domain.StoryUpdate{}, err
	}
	upd := domain.StoryUpdate{
		Name:        p.Name,
		Description: p.Description,
		StoryType:   strings.TrimSpace(p.Fields[KeyStoryType]),
		Labels:      labelParams(p.Fields[KeyLabels]),
	}
	if est := strings.TrimSpace(p.Fields[KeyEstimate]); est != "" {
		n, err := strconv.Atoi(est)
		if err != nil {
			return domain.StoryUpdate{}, fmt.Errorf("estimate %q: %w", est, err)
		}
		upd.Estimate = &n
	}
	if epic := strings.TrimSpace(p.Fields[KeyEpic]); epic != "" {
		id, err := pairID(epic)
		if err != nil {
			return domain.StoryUpdate{}, fmt.Errorf("epic %q: %w", epic, err)
		}
		upd.EpicID = &id
	}
	stateName := strings.TrimSpace(p.Fields[KeyState])
	st, ok, err := resolver.StateByName(ctx, stateName)
	if err != nil {
		return domain.StoryUpdate{}, err
	}
	if !ok {
		return domain.StoryUpdate{}, refs.ResolutionError{Kind: "workflow state", Ref: stateName}
	}
	upd.WorkflowStateID = st.ID
	return upd, nil
}

// labelParams splits a comma-joined label field into creation params,
// trimming whitespace and dropping empty entries.
func labelParams(field string) []domain.LabelParam {
	var params []domain.LabelParam
	for _, name := range strings.Split(field, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		params = append(params, domain.LabelParam{Name: name})
	}
	return params
}

// pairID reads the identifier out of an "id: name" rendering.
func pairID(s string) (int, error) {
	head, _, _ := strings.Cut(s, ":")
	return strconv.Atoi(strings.TrimSpace(head))
}
