package sync

import (
	"log/slog"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

const IgnoreFileName = ".syncignore"

// SyncIgnoreList holds the user's gitignore-style rules read from the
// .syncignore file at the sync root.
type SyncIgnoreList struct {
	fs      afero.Fs
	baseDir string
	ignore  *gitignore.GitIgnore
	rules   int
}

func NewSyncIgnoreList(fsys afero.Fs, baseDir string) *SyncIgnoreList {
	return &SyncIgnoreList{fs: fsys, baseDir: baseDir}
}

// Load (re)reads the ignore file. A missing file means no extra rules.
func (s *SyncIgnoreList) Load() {
	s.ignore = nil
	s.rules = 0

	ignorePath := filepath.Join(s.baseDir, IgnoreFileName)
	data, err := afero.ReadFile(s.fs, ignorePath)
	if err != nil {
		if exists, _ := afero.Exists(s.fs, ignorePath); exists {
			slog.Warn("Failed to read ignore file", "path", ignorePath, "error", err)
		}
		return
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return
	}

	s.ignore = gitignore.CompileIgnoreLines(lines...)
	s.rules = len(lines)
	slog.Info("Loaded ignore file", "path", ignorePath, "rules", s.rules)
}

// Rules is the number of non-empty lines loaded.
func (s *SyncIgnoreList) Rules() int {
	return s.rules
}

// ShouldIgnore matches a relative slash path. Directories must be passed with
// a trailing slash so that "dir/" patterns apply.
func (s *SyncIgnoreList) ShouldIgnore(path string) bool {
	if s == nil || s.ignore == nil {
		return false
	}
	return s.ignore.MatchesPath(path)
}
