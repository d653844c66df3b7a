// Package security keeps user-supplied run labels and paths from writing
// outside the configured output directory.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path resolves outside its base directory.
var ErrPathEscape = errors.New("path escapes output directory")

// maxLabelLen bounds the file name stem derived from a label.
const maxLabelLen = 96

// resolve returns the canonical form of path. Symlinks are followed on the
// longest existing prefix so a not-yet-created file under a symlinked
// directory still resolves to its real location.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	rest := ""
	for cur := abs; ; {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(real, rest), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

// ValidatePathWithinDirectory returns ErrPathEscape (wrapped) unless path,
// after cleaning and symlink resolution, lies inside dir.
func ValidatePathWithinDirectory(path, dir string) error {
	p, err := resolve(path)
	if err != nil {
		return err
	}
	d, err := resolve(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(d, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrPathEscape, path, dir)
	}
	return nil
}

// SanitizeLabel turns a free-form run label into a file name stem: ASCII
// letters, digits, dot, dash and underscore are kept, every other run of
// characters becomes one underscore. An empty result is "run".
func SanitizeLabel(label string) string {
	var b strings.Builder
	gap := false
	for _, r := range label {
		if b.Len() >= maxLabelLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
			gap = false
		case !gap:
			b.WriteByte('_')
			gap = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "run"
	}
	return out
}

// OutputPath joins the sanitized stem and suffix under dir and checks the
// result stays there.
func OutputPath(dir, stem, suffix string) (string, error) {
	path := filepath.Join(dir, SanitizeLabel(stem)+suffix)
	if err := ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}
