package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/patternmatcher"
)

var errNotDirectory = errors.New("not a directory")

// PatternMatchError reports a scan root that cannot be matched against
type PatternMatchError struct {
	Root string
	Err  error
}

func (e *PatternMatchError) Error() string {
	return fmt.Sprintf("pattern match failed for %s: %v", e.Root, e.Err)
}

func (e *PatternMatchError) Unwrap() error {
	return e.Err
}

// PatternMatcher handles glob pattern matching against slash-separated
// relative paths. `*` and `?` stay within one path segment, `**` spans any
// number of segments. Matching is case-sensitive.
//
// A pattern that matches a directory also selects everything beneath it, so
// "conf" and "conf/" both select the whole conf subtree.
type PatternMatcher struct {
	patterns []string
	matchers []*patternmatcher.PatternMatcher
}

// NewPatternMatcher creates a new pattern matcher. Every pattern is compiled
// up front, so bad syntax surfaces here instead of at match time and the
// matcher is safe for concurrent use afterwards.
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	var expanded []string
	for _, pattern := range patterns {
		expanded = append(expanded, ExpandPattern(pattern)...)
	}

	pm := &PatternMatcher{patterns: expanded}
	for _, pattern := range expanded {
		if strings.HasPrefix(pattern, "!") {
			return nil, fmt.Errorf("invalid pattern %q: negation is not supported, use excludes", pattern)
		}

		// One matcher per pattern keeps the patterns independent of each other
		m, err := patternmatcher.New([]string{pattern})
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if _, err := m.MatchesOrParentMatches("."); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		pm.matchers = append(pm.matchers, m)
	}

	return pm, nil
}

// Patterns returns the normalized patterns
func (pm *PatternMatcher) Patterns() []string {
	return pm.patterns
}

// Empty reports whether the matcher has no patterns
func (pm *PatternMatcher) Empty() bool {
	return len(pm.matchers) == 0
}

// Match checks if a path matches any pattern
func (pm *PatternMatcher) Match(path string) bool {
	path = NormalizePattern(path)

	for _, m := range pm.matchers {
		if ok, err := m.MatchesOrParentMatches(path); err == nil && ok {
			return true
		}
	}

	return false
}

// GetMatchingPaths returns all paths that match any pattern
func (pm *PatternMatcher) GetMatchingPaths(paths []string) []string {
	var matches []string
	for _, path := range paths {
		if pm.Match(path) {
			matches = append(matches, path)
		}
	}
	return matches
}

// MatchFiles walks root and returns the relative, slash-separated paths of
// every file selected by includes and not rejected by excludes.
//
// An empty include list selects everything. Excludes always win over
// includes. Results are sorted so staging is deterministic.
func MatchFiles(root string, includes, excludes []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &PatternMatchError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &PatternMatchError{Root: root, Err: errNotDirectory}
	}

	include, err := NewPatternMatcher(includes)
	if err != nil {
		return nil, &PatternMatchError{Root: root, Err: err}
	}
	exclude, err := NewPatternMatcher(excludes)
	if err != nil {
		return nil, &PatternMatchError{Root: root, Err: err}
	}

	w := &fileWalker{include: include, exclude: exclude, visited: make(map[string]bool)}
	if err := w.walk(root, ""); err != nil {
		return nil, &PatternMatchError{Root: root, Err: err}
	}

	matches := w.matches
	sort.Strings(matches)
	return matches, nil
}

// fileWalker collects matching files. Symlinked directories are walked as if
// they were real directories. visited holds the resolved directories being
// walked, so a link back to one of them is not followed.
type fileWalker struct {
	include *PatternMatcher
	exclude *PatternMatcher
	visited map[string]bool
	matches []string
}

func (w *fileWalker) walk(dir, prefix string) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if w.visited[resolved] {
		return nil
	}
	w.visited[resolved] = true
	defer delete(w.visited, resolved)

	return filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(resolved, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if prefix != "" {
			rel = prefix + "/" + rel
		}

		if d.Type()&fs.ModeSymlink != 0 && DirectoryExists(path) {
			return w.walk(path, rel)
		}

		if !w.include.Empty() && !w.include.Match(rel) {
			return nil
		}
		if w.exclude.Match(rel) {
			return nil
		}

		w.matches = append(w.matches, rel)
		return nil
	})
}

// IsGlobPattern checks if a string contains glob wildcards
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// NormalizePattern normalizes a file pattern
func NormalizePattern(pattern string) string {
	// Convert backslashes to forward slashes (for Windows compatibility)
	pattern = strings.ReplaceAll(pattern, "\\", "/")

	// Remove leading ./
	pattern = strings.TrimPrefix(pattern, "./")

	// Remove trailing /
	pattern = strings.TrimSuffix(pattern, "/")

	return pattern
}

// ExpandPattern normalizes a pattern. A trailing separator selects the whole
// subtree, so "docs/" becomes "docs/**".
func ExpandPattern(pattern string) []string {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}

	subtree := strings.HasSuffix(pattern, "/") || strings.HasSuffix(pattern, "\\")
	pattern = NormalizePattern(pattern)
	if subtree {
		if pattern == "" {
			return []string{"**"}
		}
		return []string{pattern + "/**"}
	}

	return []string{pattern}
}

// ExclusionMatcher handles exclusion patterns
type ExclusionMatcher struct {
	patterns []string
	matcher  *PatternMatcher
}

// NewExclusionMatcher creates a new exclusion matcher.
//
// Bare names such as "node_modules" exclude that name at any depth along
// with everything beneath it.
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	var all []string
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "/") {
			all = append(all, "**/"+pattern, "**/"+pattern+"/**")
			continue
		}
		all = append(all, pattern)
	}

	matcher, err := NewPatternMatcher(all)
	if err != nil {
		return nil, err
	}

	return &ExclusionMatcher{
		patterns: patterns,
		matcher:  matcher,
	}, nil
}

// IsExcluded checks if a path should be excluded
func (em *ExclusionMatcher) IsExcluded(path string) bool {
	return em.matcher.Match(path)
}

// FilterPaths removes excluded paths from a list
func (em *ExclusionMatcher) FilterPaths(paths []string) []string {
	var filtered []string
	for _, path := range paths {
		if !em.IsExcluded(path) {
			filtered = append(filtered, path)
		}
	}
	return filtered
}

// GetDefaultExclusions returns paths watch mode never reacts to
func GetDefaultExclusions() []string {
	return []string{
		".git",
		".svn",
		".hg",
		".idea",
		".vscode",
		".dockerstage",
		"*.swp",
		"*.swo",
		"*~",
		".DS_Store",
		"Thumbs.db",
		"*.tmp",
	}
}
