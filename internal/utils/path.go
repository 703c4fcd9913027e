package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var errEmptyPath = errors.New("empty path")

// ResolvePath turns a configured location into a clean absolute path,
// expanding a leading "~" to the user's home.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errEmptyPath
	}

	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

func expandHome(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && rest[0] != '/' && rest[0] != '\\') {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, rest), nil
}

// EnsureParent creates the directory holding path.
func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path))
}

// EnsureDir creates path and its parents. It fails when path is a file.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// DirExists reports whether path is an existing directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
