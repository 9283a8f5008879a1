package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// CommandRegistry maps a handler target name onto the argv it executes.
// The registry file is a JSON object of name -> argv; it is re-read on every
// lookup so edits apply without a restart.
type CommandRegistry struct {
	baseDir string
	path    string
}

func NewCommandRegistry(baseDir, path string) (*CommandRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("runner: commands path is required")
	}
	if strings.TrimSpace(baseDir) == "" {
		baseDir = "."
	}
	return &CommandRegistry{baseDir: baseDir, path: path}, nil
}

// Resolve returns the argv registered under target.
func (r *CommandRegistry) Resolve(target string) ([]string, error) {
	if r == nil {
		return nil, fmt.Errorf("runner: command registry is not configured")
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("runner: handler target is required for command mode")
	}

	full, err := safeJoin(r.baseDir, r.path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("runner: read commands file %s: %w", r.path, err)
	}

	var commands map[string][]string
	if err := json.Unmarshal(raw, &commands); err != nil {
		return nil, fmt.Errorf("runner: commands file %s must be an object of name to argv list: %w", r.path, err)
	}

	argv, ok := commands[target]
	if !ok || len(argv) == 0 {
		return nil, fmt.Errorf("runner: unknown or invalid command target %q", target)
	}
	for _, arg := range argv {
		if strings.TrimSpace(arg) == "" {
			return nil, fmt.Errorf("runner: command target %q has an empty argv element", target)
		}
	}
	return append([]string(nil), argv...), nil
}

// safeJoin resolves path under baseDir and refuses traversal outside it.
// Absolute paths are allowed only when they already sit inside baseDir.
func safeJoin(baseDir, path string) (string, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("runner: resolve base dir: %w", err)
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(base, candidate)
	}
	candidate = filepath.Clean(candidate)
	if candidate != base && !strings.HasPrefix(candidate, base+string(filepath.Separator)) {
		return "", fmt.Errorf("runner: refusing to read %s outside %s", path, baseDir)
	}
	return candidate, nil
}
