package utils_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/poltergeist/dockerstage/pkg/utils"
)

func TestPatternMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{
			name:     "simple wildcard",
			patterns: []string{"*.go"},
			path:     "main.go",
			want:     true,
		},
		{
			name:     "simple wildcard no match",
			patterns: []string{"*.go"},
			path:     "main.js",
			want:     false,
		},
		{
			name:     "single star stays in segment",
			patterns: []string{"*.go"},
			path:     "src/main.go",
			want:     false,
		},
		{
			name:     "double wildcard",
			patterns: []string{"**/*.go"},
			path:     "src/pkg/main.go",
			want:     true,
		},
		{
			name:     "double wildcard root",
			patterns: []string{"**/*.go"},
			path:     "main.go",
			want:     true,
		},
		{
			name:     "question mark",
			patterns: []string{"test?.go"},
			path:     "test1.go",
			want:     true,
		},
		{
			name:     "question mark no match",
			patterns: []string{"test?.go"},
			path:     "test12.go",
			want:     false,
		},
		{
			name:     "character class",
			patterns: []string{"test[0-9].go"},
			path:     "test5.go",
			want:     true,
		},
		{
			name:     "case sensitive",
			patterns: []string{"*.TXT"},
			path:     "a.txt",
			want:     false,
		},
		{
			name:     "multiple patterns",
			patterns: []string{"*.go", "*.js"},
			path:     "main.js",
			want:     true,
		},
		{
			name:     "exact match",
			patterns: []string{"main.go"},
			path:     "main.go",
			want:     true,
		},
		{
			name:     "trailing slash selects subtree",
			patterns: []string{"conf/"},
			path:     "conf/nested/app.yaml",
			want:     true,
		},
		{
			name:     "directory pattern selects subtree",
			patterns: []string{"conf"},
			path:     "conf/app.yaml",
			want:     true,
		},
		{
			name:     "complex pattern",
			patterns: []string{"src/**/test_*.go"},
			path:     "src/pkg/test_utils.go",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher, err := utils.NewPatternMatcher(tt.patterns)
			if err != nil {
				t.Fatalf("failed to create matcher: %v", err)
			}

			if got := matcher.Match(tt.path); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPatternMatcher_InvalidPattern(t *testing.T) {
	if _, err := utils.NewPatternMatcher([]string{"[a-"}); err == nil {
		t.Error("expected error for unterminated character class")
	}
}

func TestPatternMatcher_GetMatchingPaths(t *testing.T) {
	matcher, _ := utils.NewPatternMatcher([]string{"*.go", "test/*"})

	paths := []string{
		"main.go",
		"utils.go",
		"main.js",
		"test/unit.js",
		"test/integration.py",
		"src/app.go",
	}

	matching := matcher.GetMatchingPaths(paths)

	expected := []string{
		"main.go",
		"utils.go",
		"test/unit.js",
		"test/integration.py",
	}

	if !reflect.DeepEqual(matching, expected) {
		t.Errorf("GetMatchingPaths() = %v, want %v", matching, expected)
	}
}

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(f), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMatchFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.txt", "b.txt", "secret.txt", "c.log", "sub/d.txt", "sub/deep/e.txt")

	tests := []struct {
		name     string
		includes []string
		excludes []string
		want     []string
	}{
		{
			name: "empty includes match everything",
			want: []string{"a.txt", "b.txt", "c.log", "secret.txt", "sub/d.txt", "sub/deep/e.txt"},
		},
		{
			name:     "includes minus excludes",
			includes: []string{"*.txt"},
			excludes: []string{"secret.txt"},
			want:     []string{"a.txt", "b.txt"},
		},
		{
			name:     "recursive include",
			includes: []string{"**/*.txt"},
			excludes: []string{"sub/deep/**"},
			want:     []string{"a.txt", "b.txt", "secret.txt", "sub/d.txt"},
		},
		{
			name:     "excludes only",
			excludes: []string{"**/*.txt"},
			want:     []string{"c.log"},
		},
		{
			name:     "nothing matches",
			includes: []string{"*.md"},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := utils.MatchFiles(root, tt.includes, tt.excludes)
			if err != nil {
				t.Fatalf("MatchFiles() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MatchFiles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchFiles_EmptyDirectoriesIgnored(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "empty", "nested"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := utils.MatchFiles(root, nil, nil)
	if err != nil {
		t.Fatalf("MatchFiles() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no files, got %v", got)
	}
}

func TestMatchFiles_SymlinkedDirectories(t *testing.T) {
	root := t.TempDir()
	shared := t.TempDir()
	writeTree(t, root, "app.txt")
	writeTree(t, shared, "lib.txt")

	if err := os.Symlink(shared, filepath.Join(root, "shared")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	// A link back to the root must not be followed forever
	if err := os.Symlink(root, filepath.Join(root, "loop")); err != nil {
		t.Fatal(err)
	}

	got, err := utils.MatchFiles(root, []string{"**/*.txt"}, nil)
	if err != nil {
		t.Fatalf("MatchFiles() error = %v", err)
	}
	want := []string{"app.txt", "shared/lib.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MatchFiles() = %v, want %v", got, want)
	}
}

func TestPatternMatcher_ConcurrentMatch(t *testing.T) {
	matcher, err := utils.NewPatternMatcher([]string{"**/*.go", "docs/"})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !matcher.Match("src/main.go") || !matcher.Match("docs/a/b.md") || matcher.Match("main.js") {
				t.Error("unexpected match result")
			}
		}()
	}
	wg.Wait()
}

func TestPatternMatcher_RejectsNegation(t *testing.T) {
	if _, err := utils.NewPatternMatcher([]string{"!secret.txt"}); err == nil {
		t.Error("expected error for negated pattern")
	}
}

func TestMatchFiles_BadRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	writeTree(t, dir, "file")

	for _, root := range []string{filepath.Join(dir, "missing"), file} {
		t.Run(filepath.Base(root), func(t *testing.T) {
			_, err := utils.MatchFiles(root, nil, nil)
			var pmErr *utils.PatternMatchError
			if !errors.As(err, &pmErr) {
				t.Fatalf("expected PatternMatchError, got %v", err)
			}
			if pmErr.Root != root {
				t.Errorf("expected root %s, got %s", root, pmErr.Root)
			}
		})
	}
}

func TestIsGlobPattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{"*.go", true},
		{"test?.js", true},
		{"src/[abc].txt", true},
		{"main.go", false},
		{"src/pkg/file.go", false},
		{"**/*.go", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := utils.IsGlobPattern(tt.pattern); got != tt.want {
				t.Errorf("IsGlobPattern(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestNormalizePattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"./src/*.go", "src/*.go"},
		{"src/", "src"},
		{"\\path\\to\\file", "/path/to/file"},
		{"src/../test", "src/../test"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := utils.NormalizePattern(tt.pattern); got != tt.want {
				t.Errorf("NormalizePattern(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestExpandPattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    []string
	}{
		{"*.go", []string{"*.go"}},
		{"docs/", []string{"docs/**"}},
		{"./conf\\", []string{"conf/**"}},
		{"  ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := utils.ExpandPattern(tt.pattern); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandPattern(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestExclusionMatcher(t *testing.T) {
	em, err := utils.NewExclusionMatcher(utils.GetDefaultExclusions())
	if err != nil {
		t.Fatalf("failed to create exclusion matcher: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{".git/HEAD", true},
		{"src/.git/config", true},
		{"notes.swp", true},
		{"sub/file.txt~", true},
		{"Dockerfile", false},
		{"src/app.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := em.IsExcluded(tt.path); got != tt.want {
				t.Errorf("IsExcluded(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	filtered := em.FilterPaths([]string{"Dockerfile", ".git/HEAD", "app.go"})
	if !reflect.DeepEqual(filtered, []string{"Dockerfile", "app.go"}) {
		t.Errorf("FilterPaths() = %v", filtered)
	}
}
