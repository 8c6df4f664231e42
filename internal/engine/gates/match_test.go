package gates

import "testing"

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"src/main.go", "src/main.go", true},
		{"src/main.go", "src/other.go", false},
		{"*.md", "README.md", true},
		{"*.md", "docs/README.md", false},
		{"src/*.go", "src/main.go", true},
		{"src/*.go", "src/sub/main.go", false},
		{"src/**", "src/a/b/c.go", true},
		{"src/**", "src", true}, // ** spans zero segments
		{"src/**", "other/a.go", false},
		{"src/**/*.go", "src/a/b/c.go", true},
		{"src/**/*.go", "src/c.go", true},
		{"src/**/*.go", "src/a/b/c.md", false},
		{"**/testdata/**", "pkg/testdata/fixture.json", true},
		{"**", "anything/at/all", true},
	}
	for _, tc := range cases {
		if got := matchGlob(tc.pattern, tc.path); got != tc.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestMatchCommandPattern(t *testing.T) {
	cases := []struct {
		pattern string
		command string
		want    bool
	}{
		{"go test", "go test", true},
		{"go test", "go test ./...", true},
		{"go test", "go testx", false},
		{"git status", "git status --short", true},
		{"git status", "git stash", false},
		{"ls", "ls -la /tmp", true},
	}
	for _, tc := range cases {
		if got := matchCommandPattern(tc.pattern, tc.command); got != tc.want {
			t.Errorf("matchCommandPattern(%q, %q) = %v, want %v", tc.pattern, tc.command, got, tc.want)
		}
	}
}
