// Package pathing implements parsing and validation of slash-separated image
// paths. Paths are always interpreted from the image root: a missing leading
// slash is tolerated and repeated or trailing slashes collapse. Directories
// store no "." or ".." entries, so such components are rejected rather than
// folded, and every component is looked up by the directory walk.
package pathing

import (
	"fmt"
	"strings"

	"github.com/desertwitch/imgfs/internal/schema"
)

// MaxNameLen is the maximum length of a single path component in bytes.
const MaxNameLen = 56

// Clean returns the canonical absolute form of p.
func Clean(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("(pathing-clean) %w: %w", schema.ErrInvalidPath, ErrEmptyPath)
	}

	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("(pathing-clean) %w: contains NUL", schema.ErrInvalidPath)
	}

	parts := make([]string, 0, strings.Count(p, "/")+1)

	for _, name := range strings.Split(p, "/") {
		switch name {
		case "":
			continue
		case ".", "..":
			return "", fmt.Errorf("(pathing-clean) %w: relative component %q in %q", schema.ErrInvalidPath, name, p)
		}
		parts = append(parts, name)
	}

	return Join(parts...), nil
}

// Split cleans p and returns its components in order. The root yields no
// components. Every component is validated with [ValidateName].
func Split(p string) ([]string, error) {
	clean, err := Clean(p)
	if err != nil {
		return nil, err
	}

	if clean == "/" {
		return nil, nil
	}

	parts := strings.Split(clean[1:], "/")
	for _, name := range parts {
		if err := ValidateName(name); err != nil {
			return nil, err
		}
	}

	return parts, nil
}

// SplitParent cleans p and returns its parent path and final component. The
// root has no parent and yields an error wrapping [schema.ErrInvalidPath].
func SplitParent(p string) (string, string, error) {
	parts, err := Split(p)
	if err != nil {
		return "", "", err
	}

	if len(parts) == 0 {
		return "", "", fmt.Errorf("(pathing-parent) %w: root has no parent", schema.ErrInvalidPath)
	}

	return Join(parts[:len(parts)-1]...), parts[len(parts)-1], nil
}

// ValidateName checks a single directory entry name.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("(pathing-name) %w: reserved name %q", schema.ErrInvalidPath, name)

	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("(pathing-name) %w: forbidden character in %q", schema.ErrInvalidPath, name)

	case len(name) > MaxNameLen:
		return fmt.Errorf("(pathing-name) %w: %d bytes, limit %d", schema.ErrNameTooLong, len(name), MaxNameLen)
	}

	return nil
}

// Join builds an absolute path from components.
func Join(parts ...string) string {
	return "/" + strings.Join(parts, "/")
}

// IsRoot returns whether p denotes the root directory.
func IsRoot(p string) bool {
	clean, err := Clean(p)

	return err == nil && clean == "/"
}
