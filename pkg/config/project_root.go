package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveProjectRoot returns the absolute directory relative paths in the
// configuration are resolved against: GREENLIGHT_PROJECT_ROOT when set,
// otherwise the working directory.
func ResolveProjectRoot() string {
	if root := expandHomeDir(os.Getenv("GREENLIGHT_PROJECT_ROOT")); root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			return abs
		}
		return root
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// ResolvePath expands ~ and anchors relative paths at the project root.
func ResolvePath(path string) string {
	path = expandHomeDir(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ResolveProjectRoot(), path)
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
