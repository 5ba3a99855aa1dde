package surface

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// File is a surface backed by a document file on disk, for the CLI
// workflow: pull writes the file, an external editor changes it, save reads
// it back. A watcher marks the document modified when the editor writes it.
type File struct {
	Path string

	in       *bufio.Reader
	out      io.Writer
	watcher  *fsnotify.Watcher
	modified bool
}

// NewFile opens a file surface and starts watching the document for writes.
// Prompts read from in and print to out.
func NewFile(path string, in io.Reader, out io.Writer) (*File, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("surface: watcher: %w", err)
	}
	f := &File{Path: path, in: bufio.NewReader(in), out: out, watcher: w}
	if _, err := os.Stat(path); err == nil {
		if err := w.Add(path); err != nil {
			w.Close()
			return nil, fmt.Errorf("surface: watch %s: %w", path, err)
		}
	}
	return f, nil
}

// Close stops the watcher.
func (f *File) Close() error {
	return f.watcher.Close()
}

func (f *File) Text() string {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return ""
	}
	return string(data)
}

func (f *File) SetText(text string) error {
	if err := os.WriteFile(f.Path, []byte(text), 0o644); err != nil {
		return err
	}
	// Our own write lands in the watcher queue; drain it so it does not
	// count as a user edit.
	f.drain()
	f.watcher.Add(f.Path)
	f.modified = true
	return nil
}

func (f *File) Modified() bool {
	f.drain()
	return f.modified
}

func (f *File) SetModified(modified bool) error {
	f.drain()
	f.modified = modified
	return nil
}

// drain consumes pending watcher events; any write or rename flips the
// modified flag.
func (f *File) drain() {
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				f.modified = true
			}
		case <-f.watcher.Errors:
		default:
			return
		}
	}
}

func (f *File) Choose(prompt string, options []string) (int, error) {
	fmt.Fprint(f.out, Describe(prompt, options))
	fmt.Fprint(f.out, "> ")
	line, err := f.in.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("surface: read choice: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(options) {
		return 0, fmt.Errorf("surface: choice %q out of range 1-%d", strings.TrimSpace(line), len(options))
	}
	return n - 1, nil
}

func (f *File) Input(prompt string) (string, error) {
	fmt.Fprintf(f.out, "%s ", prompt)
	line, err := f.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("surface: read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (f *File) Notify(msg string) {
	fmt.Fprintln(f.out, msg)
}

var _ Surface = (*File)(nil)
