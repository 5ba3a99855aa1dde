package surface_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"storyline/internal/surface"
)

func TestMemorySurface(t *testing.T) {
	m := &surface.Memory{}
	if m.Modified() {
		t.Fatalf("fresh surface is modified")
	}
	if err := m.SetText("doc"); err != nil {
		t.Fatalf("set text: %v", err)
	}
	if m.Text() != "doc" || !m.Modified() {
		t.Fatalf("text=%q modified=%v", m.Text(), m.Modified())
	}
	if err := m.SetModified(false); err != nil {
		t.Fatalf("set modified: %v", err)
	}
	if m.Modified() {
		t.Fatalf("modified flag not cleared")
	}

	if _, err := m.Choose("pick", []string{"a"}); err != surface.ErrNoPrompt {
		t.Fatalf("unscripted choose: %v", err)
	}
	m.ChooseFunc = func(_ string, options []string) (int, error) { return len(options) - 1, nil }
	if idx, err := m.Choose("pick", []string{"a", "b"}); err != nil || idx != 1 {
		t.Fatalf("choose = %d %v", idx, err)
	}
	m.Notify("done")
	if len(m.Notices) != 1 || m.Notices[0] != "done" {
		t.Fatalf("notices = %v", m.Notices)
	}
}

func TestDescribe(t *testing.T) {
	got := surface.Describe("Pick one:", []string{"alpha", "beta"})
	if !strings.Contains(got, "1) alpha") || !strings.Contains(got, "2) beta") {
		t.Fatalf("describe = %q", got)
	}
}

func newFileSurface(t *testing.T) *surface.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "story.doc")
	f, err := surface.NewFile(path, strings.NewReader(""), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("new file surface: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// waitModified polls because watcher events are delivered asynchronously.
func waitModified(t *testing.T, f *surface.File) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.Modified() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("external write not detected")
}

func TestFileSurfaceRoundTrip(t *testing.T) {
	f := newFileSurface(t)
	if err := f.SetText("42: Fix bug\n"); err != nil {
		t.Fatalf("set text: %v", err)
	}
	if f.Text() != "42: Fix bug\n" {
		t.Fatalf("text = %q", f.Text())
	}
	// Let the watcher deliver our own write before clearing the flag.
	time.Sleep(50 * time.Millisecond)
	if err := f.SetModified(false); err != nil {
		t.Fatalf("set modified: %v", err)
	}
	if f.Modified() {
		t.Fatalf("own write counted as user edit")
	}
}

func TestFileSurfaceDetectsEditorWrite(t *testing.T) {
	f := newFileSurface(t)
	if err := f.SetText("original\n"); err != nil {
		t.Fatalf("set text: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := f.SetModified(false); err != nil {
		t.Fatalf("set modified: %v", err)
	}
	if err := os.WriteFile(f.Path, []byte("edited\n"), 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}
	waitModified(t, f)
}

func TestFileSurfaceChoose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story.doc")
	var out bytes.Buffer
	f, err := surface.NewFile(path, strings.NewReader("2\nfree text\nzero\n"), &out)
	if err != nil {
		t.Fatalf("new file surface: %v", err)
	}
	defer f.Close()

	idx, err := f.Choose("Pick:", []string{"a", "b"})
	if err != nil || idx != 1 {
		t.Fatalf("choose = %d %v", idx, err)
	}
	if !strings.Contains(out.String(), "1) a") {
		t.Fatalf("prompt output = %q", out.String())
	}
	got, err := f.Input("Name:")
	if err != nil || got != "free text" {
		t.Fatalf("input = %q %v", got, err)
	}
	if _, err := f.Choose("Pick:", []string{"a", "b"}); err == nil {
		t.Fatalf("non-numeric choice accepted")
	}
}
