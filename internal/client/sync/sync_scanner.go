package sync

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

var (
	DefaultReservedDirs      = []string{"site*", "temp", "Examples"}
	DefaultGeneratedSuffixes = []string{".pyc", ".pyo"}
)

// ScanRules decide which local paths take part in synchronization.
type ScanRules struct {
	// StateFiles are file names never synced (the state store files).
	StateFiles []string
	// ReservedDirs are glob patterns for top level directories that are
	// skipped with their whole subtree.
	ReservedDirs []string
	// GeneratedSuffixes exclude compiled or generated artifacts.
	GeneratedSuffixes []string
	// Ignore adds user rules from the ignore file, may be nil.
	Ignore *SyncIgnoreList
}

func DefaultScanRules(stateFiles ...string) ScanRules {
	return ScanRules{
		StateFiles:        stateFiles,
		ReservedDirs:      DefaultReservedDirs,
		GeneratedSuffixes: DefaultGeneratedSuffixes,
	}
}

// DirExcluded reports whether a directory (relative slash path, not the root)
// is skipped together with everything below it.
func (r ScanRules) DirExcluded(rel string) bool {
	name := rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		name = rel[i+1:]
	}

	if name != "." && strings.HasPrefix(name, ".") {
		return true
	}

	// reserved names only apply directly under the root
	if !strings.Contains(rel, "/") {
		for _, pattern := range r.ReservedDirs {
			if ok, _ := doublestar.Match(pattern, name); ok {
				return true
			}
		}
	}

	return r.Ignore.ShouldIgnore(rel + "/")
}

// FileExcluded applies the file name rules and the ignore file to a relative
// slash path. Directory rules are not checked.
func (r ScanRules) FileExcluded(rel string) bool {
	name := rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		name = rel[i+1:]
	}

	for _, stateFile := range r.StateFiles {
		if name == stateFile {
			return true
		}
	}

	switch {
	case strings.HasPrefix(name, "."),
		strings.HasPrefix(name, "@"),
		strings.HasSuffix(name, "~"):
		return true
	}

	for _, suffix := range r.GeneratedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}

	return r.Ignore.ShouldIgnore(rel)
}

// Includes reports whether a scan would yield rel, assuming it exists as a
// regular file.
func (r ScanRules) Includes(rel string) bool {
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if r.DirExcluded(strings.Join(parts[:i], "/")) {
			return false
		}
	}
	return !r.FileExcluded(rel)
}

// LocalCandidate is a local file that survived the inclusion rules.
type LocalCandidate struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Scanner walks the sync root.
type Scanner struct {
	fs    afero.Fs
	root  string
	rules ScanRules
}

func NewScanner(fsys afero.Fs, root string, rules ScanRules) *Scanner {
	return &Scanner{fs: fsys, root: root, rules: rules}
}

func (s *Scanner) Rules() ScanRules {
	return s.rules
}

// Scan returns the candidates in lexical order. Excluded directories are not
// descended into. Any walk error fails the whole scan.
func (s *Scanner) Scan(ctx context.Context) ([]LocalCandidate, error) {
	var candidates []LocalCandidate

	err := afero.Walk(s.fs, s.root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if s.rules.DirExcluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.Mode().IsRegular() || s.rules.FileExcluded(rel) {
			return nil
		}

		candidates = append(candidates, LocalCandidate{
			Path:    rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, &ScanIncompleteError{Root: s.root, Err: err}
	}

	return candidates, nil
}
