package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Edit is a precise byte-range replacement in one file. Start and End are
// byte offsets into the current file content; End is exclusive.
type Edit struct {
	Path        string
	Start       int
	End         int
	Replacement []byte
}

// Editor applies edits to the workspace. The inverse edit returned by
// Apply undoes the change exactly, which is what rollback steps replay.
type Editor interface {
	Apply(ctx context.Context, edit Edit) (inverse Edit, err error)
}

// Reader reads back current file content after edits. Both bundled
// editors implement it; fix validation depends on it.
type Reader interface {
	ReadFile(path string) ([]byte, error)
}

// FSEditor applies edits to files on disk under a fixed root.
type FSEditor struct {
	root string
}

// NewFSEditor creates an editor rooted at the workspace directory.
func NewFSEditor(root string) *FSEditor {
	return &FSEditor{root: root}
}

// Apply performs the byte-range replacement and returns the inverse edit.
func (e *FSEditor) Apply(ctx context.Context, edit Edit) (Edit, error) {
	if err := ctx.Err(); err != nil {
		return Edit{}, err
	}
	path := filepath.Join(e.root, edit.Path)
	content, err := os.ReadFile(path)
	if err != nil {
		return Edit{}, fmt.Errorf("reading %s: %w", edit.Path, err)
	}
	inverse, next, err := applyToBytes(content, edit)
	if err != nil {
		return Edit{}, err
	}
	info, err := os.Stat(path)
	mode := os.FileMode(0644)
	if err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, next, mode); err != nil {
		return Edit{}, fmt.Errorf("writing %s: %w", edit.Path, err)
	}
	return inverse, nil
}

// ReadFile implements Reader against the on-disk workspace.
func (e *FSEditor) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(e.root, path))
}

// applyToBytes performs the replacement on an in-memory copy and computes
// the inverse edit.
func applyToBytes(content []byte, edit Edit) (inverse Edit, next []byte, err error) {
	if edit.Start < 0 || edit.End < edit.Start || edit.End > len(content) {
		return Edit{}, nil, fmt.Errorf("edit range [%d,%d) out of bounds for %s (%d bytes)",
			edit.Start, edit.End, edit.Path, len(content))
	}
	removed := make([]byte, edit.End-edit.Start)
	copy(removed, content[edit.Start:edit.End])

	next = make([]byte, 0, len(content)-len(removed)+len(edit.Replacement))
	next = append(next, content[:edit.Start]...)
	next = append(next, edit.Replacement...)
	next = append(next, content[edit.End:]...)

	inverse = Edit{
		Path:        edit.Path,
		Start:       edit.Start,
		End:         edit.Start + len(edit.Replacement),
		Replacement: removed,
	}
	return inverse, next, nil
}

// MemEditor applies edits to an in-memory file set. Used by tests and by
// detectors validating a fix against the captured snapshot before touching
// disk.
type MemEditor struct {
	files map[string][]byte
}

// NewMemEditor seeds an in-memory editor with file contents.
func NewMemEditor(files map[string][]byte) *MemEditor {
	copied := make(map[string][]byte, len(files))
	for path, content := range files {
		buf := make([]byte, len(content))
		copy(buf, content)
		copied[path] = buf
	}
	return &MemEditor{files: copied}
}

// Apply performs the replacement in memory and returns the inverse edit.
func (e *MemEditor) Apply(ctx context.Context, edit Edit) (Edit, error) {
	if err := ctx.Err(); err != nil {
		return Edit{}, err
	}
	content, ok := e.files[edit.Path]
	if !ok {
		return Edit{}, fmt.Errorf("no such file: %s", edit.Path)
	}
	inverse, next, err := applyToBytes(content, edit)
	if err != nil {
		return Edit{}, err
	}
	e.files[edit.Path] = next
	return inverse, nil
}

// Content returns the current in-memory content of a file.
func (e *MemEditor) Content(path string) []byte {
	return e.files[path]
}

// ReadFile implements Reader over the in-memory file set.
func (e *MemEditor) ReadFile(path string) ([]byte, error) {
	content, ok := e.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}
