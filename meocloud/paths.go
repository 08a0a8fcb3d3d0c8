package meocloud

import (
	"fmt"
	"net/url"
	"strings"
)

func validatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w %q: must be an absolute path", ErrInvalidPath, path)
	}
	if strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w %q: cannot end with a forward slash", ErrInvalidPath, path)
	}
	return nil
}

// validateMetadataPath also accepts the root itself.
func validateMetadataPath(path string) error {
	if path == "/" {
		return nil
	}
	return validatePath(path)
}

// parentDir returns the directory holding path, "" for entries under root.
func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// ancestors lists every proper ancestor of path from the top down, excluding
// root: "/a/b/c" yields "/a", "/a/b".
func ancestors(path string) []string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	out := make([]string, 0, len(segments))
	for i := 1; i < len(segments); i++ {
		out = append(out, "/"+strings.Join(segments[:i], "/"))
	}
	return out
}

// escapePath escapes each segment while keeping the separators.
func escapePath(path string) string {
	return (&url.URL{Path: path}).EscapedPath()
}
