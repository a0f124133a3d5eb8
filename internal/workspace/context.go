// Package workspace captures a point-in-time view of the workspace for
// detectors to scan, and provides the editor used to apply fixes.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// File is one captured source file. Content is a snapshot; detectors must
// not mutate it.
type File struct {
	Path     string
	Language string
	Content  []byte
}

// Context is the frozen workspace view handed to every detector in a
// cycle. A fresh context is captured per cycle so detection never races
// concurrent edits.
type Context struct {
	Root          string
	Files         []File
	Branch        string
	ModifiedPaths []string
	CapturedAt    time.Time
}

// FileByPath returns the captured file with the given workspace-relative
// path, or nil.
func (c *Context) FileByPath(path string) *File {
	for i := range c.Files {
		if c.Files[i].Path == path {
			return &c.Files[i]
		}
	}
	return nil
}

// Config controls what the capturer picks up.
type Config struct {
	// Root is the workspace directory to scan.
	Root string

	// Extensions limits capture to these file extensions (with dot).
	Extensions []string

	// IgnoreDirs are directory names skipped during the walk.
	IgnoreDirs []string

	// MaxFiles bounds the capture; excess files are skipped with a warning.
	MaxFiles int

	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64
}

// DefaultConfig returns capture defaults tuned for JS/TS workspaces.
func DefaultConfig(root string) *Config {
	return &Config{
		Root:        root,
		Extensions:  []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs", ".json"},
		IgnoreDirs:  []string{"node_modules", ".git", "dist", "build", "coverage", ".next"},
		MaxFiles:    500,
		MaxFileSize: 1 << 20,
	}
}

// Capturer builds workspace contexts.
type Capturer struct {
	cfg    *Config
	logger *zap.Logger
}

// NewCapturer creates a capturer for the configured root.
func NewCapturer(cfg *Config, logger *zap.Logger) (*Capturer, error) {
	if cfg == nil || cfg.Root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{cfg: cfg, logger: logger}, nil
}

// Capture walks the root and returns a frozen context. Git enrichment is
// best-effort: a workspace outside a repository still captures fine.
func (c *Capturer) Capture(ctx context.Context) (*Context, error) {
	wc := &Context{
		Root:       c.cfg.Root,
		CapturedAt: time.Now(),
	}

	err := filepath.WalkDir(c.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if c.ignored(d.Name()) && path != c.cfg.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if !c.wanted(path) {
			return nil
		}
		if c.cfg.MaxFiles > 0 && len(wc.Files) >= c.cfg.MaxFiles {
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if c.cfg.MaxFileSize > 0 && info.Size() > c.cfg.MaxFileSize {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
			return nil
		}
		rel, err := filepath.Rel(c.cfg.Root, path)
		if err != nil {
			rel = path
		}
		wc.Files = append(wc.Files, File{
			Path:     rel,
			Language: LanguageForPath(path),
			Content:  content,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("capturing workspace: %w", err)
	}

	c.enrichFromGit(wc)
	return wc, nil
}

// enrichFromGit adds branch and modified-path information when the root is
// inside a git repository.
func (c *Capturer) enrichFromGit(wc *Context) {
	repo, err := git.PlainOpenWithOptions(c.cfg.Root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return
	}
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		wc.Branch = head.Name().Short()
	}
	wt, err := repo.Worktree()
	if err != nil {
		return
	}
	status, err := wt.Status()
	if err != nil {
		c.logger.Debug("git status failed", zap.Error(err))
		return
	}
	for path, st := range status {
		if st.Worktree != git.Unmodified || st.Staging != git.Unmodified {
			wc.ModifiedPaths = append(wc.ModifiedPaths, path)
		}
	}
}

func (c *Capturer) ignored(dir string) bool {
	for _, name := range c.cfg.IgnoreDirs {
		if dir == name {
			return true
		}
	}
	return false
}

func (c *Capturer) wanted(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range c.cfg.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// LanguageForPath guesses a language identifier from the file extension.
func LanguageForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".json":
		return "json"
	case ".go":
		return "go"
	case ".py":
		return "python"
	default:
		return "plaintext"
	}
}
