package wtunpack

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
)

// NormalizeName turns an internal container name into a relative
// slash-separated path: backslashes become slashes and leading separators
// are dropped.
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return strings.TrimLeft(name, "/")
}

// SafeJoin places an internal name under root. Names that are empty, carry
// NUL bytes or contain ".." components are rejected.
func SafeJoin(root, name string) (string, error) {
	norm := NormalizeName(name)
	if norm == "" || strings.IndexByte(norm, 0) >= 0 {
		return "", unsafePath(name)
	}
	for _, part := range strings.Split(norm, "/") {
		if part == ".." {
			return "", unsafePath(name)
		}
	}
	if filepath.VolumeName(filepath.FromSlash(norm)) != "" {
		return "", unsafePath(name)
	}
	return filepath.Join(root, filepath.FromSlash(norm)), nil
}

func unsafePath(name string) error {
	return wterrors.ErrFormat.WithMessage("unsafe path").WithDetail("entry", fmt.Sprintf("%q", name))
}

// AllowList selects the entries to extract. A nil *AllowList allows
// everything; an empty one allows nothing.
type AllowList struct {
	set map[string]struct{}
}

func allowKey(name string) string {
	return strings.ToLower(NormalizeName(name))
}

// NewAllowList builds a list from paths, compared case-insensitively after
// normalization.
func NewAllowList(paths []string) *AllowList {
	a := &AllowList{set: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		a.set[allowKey(p)] = struct{}{}
	}
	return a
}

// LoadAllowList reads a JSON array of paths.
func LoadAllowList(r io.Reader) (*AllowList, error) {
	var paths []string
	if err := json.NewDecoder(r).Decode(&paths); err != nil {
		return nil, wterrors.ErrFormat.WithMessage("bad file list").WithCause(err)
	}
	return NewAllowList(paths), nil
}

// Allows reports whether name is selected.
func (a *AllowList) Allows(name string) bool {
	if a == nil {
		return true
	}
	_, ok := a.set[allowKey(name)]
	return ok
}

// Len returns the number of distinct paths; -1 for a nil list.
func (a *AllowList) Len() int {
	if a == nil {
		return -1
	}
	return len(a.set)
}
