package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathGuard validates that a path hint supplied in a job (title, source
// hint, or any other externally-influenced string) can only ever resolve to
// a location inside a configured base directory. Every subprocess file
// argument built by CommandGuard and Planner flows through Resolve first.
//
// This is deliberately stricter than Sandbox.ResolvePath: it rejects control
// characters and shell metacharacters outright (callers never need a path
// containing them), and it canonicalizes through symlinks before the
// containment check so a symlink planted inside the base cannot be used to
// escape it.
type PathGuard struct {
	requireExists bool
}

// NewPathGuard creates a PathGuard. When requireExists is true, Resolve also
// fails if the resolved path does not exist on disk.
func NewPathGuard(requireExists bool) *PathGuard {
	return &PathGuard{requireExists: requireExists}
}

// dangerousSequences are substrings that are never legitimate in a file path
// hint and very often indicate an injection attempt against whatever
// eventually consumes the resolved path.
var dangerousSequences = []string{"~", "$", "`", ";"}

// Resolve implements the PathGuard algorithm: reject malformed or
// suspicious hints, canonicalize base/hint, and require that the result is
// base itself or a descendant of it.
func (g *PathGuard) Resolve(base, hint string) (string, error) {
	if err := validateHint(hint); err != nil {
		return "", err
	}

	baseCanon, err := canonicalize(base)
	if err != nil {
		return "", fmt.Errorf("canonicalizing base: %w", err)
	}

	candidate := filepath.Join(baseCanon, filepath.Clean(hint))
	candidateCanon, err := canonicalizeBestEffort(candidate)
	if err != nil {
		return "", fmt.Errorf("canonicalizing candidate: %w", err)
	}

	if candidateCanon != baseCanon && !strings.HasPrefix(candidateCanon, baseCanon+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", hint)
	}

	if g.requireExists {
		if _, err := canonicalize(candidateCanon); err != nil {
			return "", fmt.Errorf("path does not exist: %s", hint)
		}
	}

	return candidateCanon, nil
}

// validateHint rejects null bytes, control characters, absolute paths,
// drive letters, backslashes, ".." segments, and shell metacharacters.
func validateHint(hint string) error {
	if hint == "" {
		return fmt.Errorf("path hint is empty")
	}
	for _, r := range hint {
		if r == 0 || r < 0x20 {
			return fmt.Errorf("path hint contains a control character")
		}
	}
	if strings.Contains(hint, "\\") {
		return fmt.Errorf("path hint contains a backslash")
	}
	if filepath.IsAbs(hint) {
		return fmt.Errorf("path hint is an absolute path: %s", hint)
	}
	if len(hint) >= 2 && hint[1] == ':' {
		return fmt.Errorf("path hint contains a drive letter: %s", hint)
	}
	for _, segment := range strings.Split(hint, "/") {
		if segment == ".." {
			return fmt.Errorf("path hint contains a parent-directory segment: %s", hint)
		}
	}
	for _, seq := range dangerousSequences {
		if strings.Contains(hint, seq) {
			return fmt.Errorf("path hint contains a disallowed sequence %q", seq)
		}
	}
	return nil
}

// canonicalize resolves a path to its absolute, symlink-free form. The path
// must exist.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// canonicalizeBestEffort resolves as much of the path as exists, then
// rejoins the remaining (not-yet-created) tail. This lets PathGuard
// validate a destination path that has not been created yet, while still
// catching symlink escapes on the portion that does exist.
func canonicalizeBestEffort(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	dir, base := filepath.Split(abs)
	for dir != "" && dir != string(filepath.Separator) {
		if resolved, err := filepath.EvalSymlinks(filepath.Clean(dir)); err == nil {
			return filepath.Join(resolved, base), nil
		}
		parent, child := filepath.Split(filepath.Clean(dir))
		base = filepath.Join(child, base)
		dir = parent
	}
	return abs, nil
}
