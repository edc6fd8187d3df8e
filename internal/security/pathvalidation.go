// Package security validates filesystem inputs that originate outside the
// process: frame file names discovered in a capture directory and
// user-supplied identifiers embedded into output file names.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFramePath checks that path stays inside the capture directory
// after cleaning and symlink resolution. Frame file names come from a
// directory listing, but the listing may contain symlinks pointing
// outside the capture tree; those are rejected.
func ValidateFramePath(path, captureDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve frame path: %w", err)
	}
	absDir, err := filepath.Abs(captureDir)
	if err != nil {
		return fmt.Errorf("resolve capture directory: %w", err)
	}

	canonDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve capture directory symlinks: %w", err)
	}
	canonPath := canonicalize(absPath)

	rel, err := filepath.Rel(canonDir, canonPath)
	if err != nil {
		return fmt.Errorf("frame path outside capture directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("frame path %s escapes capture directory %s", path, captureDir)
	}
	return nil
}

// canonicalize resolves symlinks in path. When the path itself does not
// exist yet, the nearest existing ancestor is resolved instead so a
// symlinked parent cannot smuggle the path out of the capture tree.
func canonicalize(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	for cur := absPath; ; {
		parent := filepath.Dir(cur)
		if parent == cur {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, absPath)
			return filepath.Join(resolved, rel)
		}
		cur = parent
	}
}

// SanitizeFilename reduces an arbitrary identifier, such as a run ID or
// scene ID, to a string safe to embed in an output file name. Anything
// outside ASCII letters, digits, dot, underscore and dash becomes a
// single underscore; the result is capped at 128 bytes and never empty.
func SanitizeFilename(s string) string {
	const maxLen = 128

	var b strings.Builder
	squashed := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			squashed = false
		default:
			if !squashed {
				b.WriteByte('_')
				squashed = true
			}
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
