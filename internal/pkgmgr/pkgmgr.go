// Package pkgmgr selects and drives the workspace's JavaScript package
// manager. The manager is chosen once at startup from lock-file presence;
// the dependency detector only sees the Manager interface.
package pkgmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// InstallOptions mirror the flags a package manager accepts for a single
// install.
type InstallOptions struct {
	Dev     bool
	Version string
	Exact   bool
}

// InstallResult reports one install attempt.
type InstallResult struct {
	Success bool
	Version string
	Output  string
	Err     error
}

// Manager is the package registry/installer collaborator consumed by the
// dependency detector.
type Manager interface {
	// Name identifies the underlying tool (npm, pnpm, yarn, bun).
	Name() string

	// IsInstalled reports whether the package is present in the workspace.
	IsInstalled(ctx context.Context, name string) (bool, error)

	// Install installs the package. Implementations must be safe to call
	// concurrently for distinct packages.
	Install(ctx context.Context, name string, opts InstallOptions) InstallResult

	// InstallCommand renders the shell command an install would run, for
	// display in actionable items.
	InstallCommand(name string, opts InstallOptions) string
}

// lockFiles maps lock-file names to the manager that owns them, in
// detection priority order.
var lockFiles = []struct {
	file string
	tool string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"bun.lockb", "bun"},
	{"package-lock.json", "npm"},
}

// Detect picks the manager for a workspace by lock-file presence. A
// package.json without any lock file falls back to npm. A workspace with
// no package.json has no manager.
func Detect(root string, logger *zap.Logger) (Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, lf := range lockFiles {
		if _, err := os.Stat(filepath.Join(root, lf.file)); err == nil {
			logger.Info("package manager detected",
				zap.String("tool", lf.tool),
				zap.String("lock_file", lf.file),
			)
			return newExecManager(lf.tool, root, logger), nil
		}
	}
	if _, err := os.Stat(filepath.Join(root, "package.json")); err == nil {
		logger.Info("no lock file found, defaulting to npm")
		return newExecManager("npm", root, logger), nil
	}
	return nil, fmt.Errorf("no package.json in %s", root)
}

// execManager shells out to the detected tool.
type execManager struct {
	tool   string
	root   string
	logger *zap.Logger
}

func newExecManager(tool, root string, logger *zap.Logger) *execManager {
	return &execManager{tool: tool, root: root, logger: logger}
}

func (m *execManager) Name() string { return m.tool }

// IsInstalled checks node_modules for the package manifest. Cheap and
// tool-agnostic; avoids spawning a process per check.
func (m *execManager) IsInstalled(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	manifest := filepath.Join(m.root, "node_modules", filepath.FromSlash(name), "package.json")
	if _, err := os.Stat(manifest); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *execManager) Install(ctx context.Context, name string, opts InstallOptions) InstallResult {
	args := m.installArgs(name, opts)
	cmd := exec.CommandContext(ctx, m.tool, args...)
	cmd.Dir = m.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		m.logger.Warn("install failed",
			zap.String("tool", m.tool),
			zap.String("package", name),
			zap.Error(err),
		)
		return InstallResult{Output: string(out), Err: fmt.Errorf("%s install %s: %w", m.tool, name, err)}
	}
	version, verr := m.installedVersion(name)
	if verr != nil {
		m.logger.Debug("could not read installed version", zap.String("package", name), zap.Error(verr))
	}
	return InstallResult{Success: true, Version: version, Output: string(out)}
}

func (m *execManager) InstallCommand(name string, opts InstallOptions) string {
	return m.tool + " " + strings.Join(m.installArgs(name, opts), " ")
}

// installArgs renders tool-specific arguments for one package.
func (m *execManager) installArgs(name string, opts InstallOptions) []string {
	spec := name
	if opts.Version != "" {
		spec = name + "@" + opts.Version
	}
	var args []string
	switch m.tool {
	case "yarn", "bun", "pnpm":
		args = []string{"add", spec}
		if opts.Dev {
			args = append(args, "--dev")
		}
		if opts.Exact {
			args = append(args, "--exact")
		}
	default: // npm
		args = []string{"install", spec}
		if opts.Dev {
			args = append(args, "--save-dev")
		}
		if opts.Exact {
			args = append(args, "--save-exact")
		}
	}
	return args
}

// installedVersion reads the version field from the installed manifest.
func (m *execManager) installedVersion(name string) (string, error) {
	manifest := filepath.Join(m.root, "node_modules", filepath.FromSlash(name), "package.json")
	data, err := os.ReadFile(manifest)
	if err != nil {
		return "", err
	}
	var pkg struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", err
	}
	return pkg.Version, nil
}
