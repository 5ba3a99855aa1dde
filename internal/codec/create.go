package codec

import (
	"fmt"
	"strings"

	"storyline/internal/domain"
	"storyline/internal/markup"
)

// CreateOpts parameterizes the creation variant. There is no prior story to
// decode, so project, type and state come from the caller (typically chosen
// through the editing surface).
type CreateOpts struct {
	StoryType       string
	ProjectID       int
	WorkflowStateID int
	Labels          []string
	// LogMarker truncates the section body: everything from the line that
	// starts with this marker onward is a log/history sub-section and is
	// not part of the description.
	LogMarker string
}

// DefaultLogMarker is the start marker of the trailing activity sub-section.
const DefaultLogMarker = "## Activity"

// EncodeCreate builds a create payload from a user-authored section: the
// heading line provides the name, the body (truncated at the log marker) is
// converted from the document's rich-text markup into markdown.
func EncodeCreate(section string, opts CreateOpts) (domain.StoryCreate, error) {
	heading, body, err := splitSection(section, opts.LogMarker)
	if err != nil {
		return domain.StoryCreate{}, err
	}
	if opts.StoryType == "" {
		opts.StoryType = domain.TypeFeature
	}
	if opts.ProjectID == 0 {
		return domain.StoryCreate{}, fmt.Errorf("create: project is required")
	}
	params := domain.StoryCreate{
		Name:            heading,
		Description:     markup.ToMarkdown(body),
		StoryType:       opts.StoryType,
		ProjectID:       opts.ProjectID,
		WorkflowStateID: opts.WorkflowStateID,
	}
	for _, l := range opts.Labels {
		l = strings.TrimSpace(l)
		if l != "" {
			params.Labels = append(params.Labels, domain.LabelParam{Name: l})
		}
	}
	return params, nil
}

// splitSection separates the heading line from the section body and drops
// the trailing log sub-section.
func splitSection(section, logMarker string) (heading, body string, err error) {
	if logMarker == "" {
		logMarker = DefaultLogMarker
	}
	lines := strings.Split(section, "\n")
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i == len(lines) {
		return "", "", fmt.Errorf("create: section is empty")
	}
	heading = strings.TrimSpace(strings.TrimLeft(lines[i], "#= "))
	if heading == "" {
		return "", "", fmt.Errorf("create: section heading is empty")
	}
	rest := lines[i+1:]
	for j, line := range rest {
		if strings.HasPrefix(strings.TrimSpace(line), logMarker) {
			rest = rest[:j]
			break
		}
	}
	return heading, strings.TrimSpace(strings.Join(rest, "\n")), nil
}
