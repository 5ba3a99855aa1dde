// Package surface abstracts the editing host. The sync engine depends on
// this capability set, never on a concrete editor: document text in and
// out, a modified flag, and user prompts.
package surface

import (
	"errors"
	"fmt"
)

// Surface is the editing host seen by the sync engine. Only the user edits
// the body text; only the engine rewrites the document programmatically.
type Surface interface {
	// Text returns the current document text.
	Text() string
	// SetText replaces the document text.
	SetText(text string) error
	// Modified reports whether the document has unsaved local edits.
	Modified() bool
	// SetModified sets the modified flag, e.g. cleared after decode.
	SetModified(modified bool) error
	// Choose asks the user to pick one option, returning its index.
	Choose(prompt string, options []string) (int, error)
	// Input asks the user for free text.
	Input(prompt string) (string, error)
	// Notify reports a non-fatal outcome to the user.
	Notify(msg string)
}

// ErrNoPrompt is returned by surfaces that cannot ask the user anything.
var ErrNoPrompt = errors.New("surface: interactive prompt not available")

// Memory is an in-process surface for tests and non-interactive flows.
// Prompt answers are scripted through ChooseFunc/InputFunc.
type Memory struct {
	text       string
	modified   bool
	ChooseFunc func(prompt string, options []string) (int, error)
	InputFunc  func(prompt string) (string, error)
	Notices    []string
}

func (m *Memory) Text() string { return m.text }

func (m *Memory) SetText(text string) error {
	m.text = text
	m.modified = true
	return nil
}

func (m *Memory) Modified() bool { return m.modified }

func (m *Memory) SetModified(modified bool) error {
	m.modified = modified
	return nil
}

func (m *Memory) Choose(prompt string, options []string) (int, error) {
	if m.ChooseFunc == nil {
		return 0, ErrNoPrompt
	}
	return m.ChooseFunc(prompt, options)
}

func (m *Memory) Input(prompt string) (string, error) {
	if m.InputFunc == nil {
		return "", ErrNoPrompt
	}
	return m.InputFunc(prompt)
}

func (m *Memory) Notify(msg string) {
	m.Notices = append(m.Notices, msg)
}

var _ Surface = (*Memory)(nil)

// Describe renders a prompt with numbered options, shared by interactive
// implementations.
func Describe(prompt string, options []string) string {
	out := prompt + "\n"
	for i, opt := range options {
		out += fmt.Sprintf("  %d) %s\n", i+1, opt)
	}
	return out
}
