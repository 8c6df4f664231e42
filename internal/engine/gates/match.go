package gates

import (
	"path/filepath"
	"strings"
)

// matchCommandPattern reports whether command matches pattern: either
// exactly, or pattern followed by further arguments. "git status" matches
// "git status --short" but not "git statusx".
func matchCommandPattern(pattern, command string) bool {
	return command == pattern || strings.HasPrefix(command, pattern+" ")
}

func matchAnyCommand(patterns []string, command string) bool {
	for _, p := range patterns {
		if matchCommandPattern(p, command) {
			return true
		}
	}
	return false
}

// matchGlob matches a path against a glob pattern. Standard filepath.Match
// syntax plus ** for spanning any number of path segments.
func matchGlob(pattern, path string) bool {
	if strings.Contains(pattern, "**") {
		return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
	}
	matched, _ := filepath.Match(pattern, path)
	return matched
}

func matchAnyGlob(patterns []string, path string) bool {
	for _, p := range patterns {
		if matchGlob(p, path) {
			return true
		}
	}
	return false
}

// matchSegments matches pattern segments against path segments, where **
// consumes zero or more segments.
func matchSegments(pat, val []string) bool {
	for len(pat) > 0 && len(val) > 0 {
		if pat[0] == "**" {
			pat = pat[1:]
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(val); i++ {
				if matchSegments(pat, val[i:]) {
					return true
				}
			}
			return false
		}
		matched, _ := filepath.Match(pat[0], val[0])
		if !matched {
			return false
		}
		pat = pat[1:]
		val = val[1:]
	}

	for _, p := range pat {
		if p != "**" {
			return false
		}
	}
	return len(val) == 0
}
