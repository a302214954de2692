package utils

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// PatternMatcher matches slash-separated relative paths against globs.
// "*" and "?" never cross a "/", "**" does.
type PatternMatcher struct {
	patterns []string
	regexps  []*regexp.Regexp
}

// NewPatternMatcher compiles patterns
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{
		patterns: make([]string, 0, len(patterns)),
		regexps:  make([]*regexp.Regexp, 0, len(patterns)),
	}
	for _, pattern := range patterns {
		pattern = NormalizePattern(pattern)
		regex, err := globToRegex(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		pm.patterns = append(pm.patterns, pattern)
		pm.regexps = append(pm.regexps, regex)
	}
	return pm, nil
}

// Match checks if a path matches any pattern
func (pm *PatternMatcher) Match(path string) bool {
	path = filepath.ToSlash(path)
	for _, regex := range pm.regexps {
		if regex.MatchString(path) {
			return true
		}
	}
	return false
}

// Filter returns the paths that match any pattern, keeping their order
func (pm *PatternMatcher) Filter(paths []string) []string {
	var matches []string
	for _, path := range paths {
		if pm.Match(path) {
			matches = append(matches, path)
		}
	}
	return matches
}

func globToRegex(pattern string) (*regexp.Regexp, error) {
	var regex strings.Builder
	regex.WriteString("^")

	i := 0
	for i < len(pattern) {
		switch c := pattern[i]; c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// "**/" also matches zero directories
					regex.WriteString("(?:.*/)?")
					i += 3
				} else {
					regex.WriteString(".*")
					i += 2
				}
			} else {
				regex.WriteString("[^/]*")
				i++
			}
		case '?':
			regex.WriteString("[^/]")
			i++
		case '[':
			j := i + 1
			var class strings.Builder
			if j < len(pattern) && pattern[j] == '!' {
				class.WriteString("[^")
				j++
			} else {
				class.WriteString("[")
			}
			for j < len(pattern) && pattern[j] != ']' {
				if pattern[j] == '\\' && j+1 < len(pattern) {
					class.WriteByte(pattern[j])
					class.WriteByte(pattern[j+1])
					j += 2
				} else {
					class.WriteByte(pattern[j])
					j++
				}
			}
			if j < len(pattern) {
				regex.WriteString(class.String())
				regex.WriteByte(']')
				i = j + 1
			} else {
				regex.WriteString(`\[`)
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				regex.WriteString(regexp.QuoteMeta(pattern[i+1 : i+2]))
				i += 2
			} else {
				regex.WriteString(`\\`)
				i++
			}
		default:
			regex.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}

	regex.WriteString("$")
	return regexp.Compile(regex.String())
}

// IsGlobPattern checks if a string contains glob wildcards
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// NormalizePattern converts separators to "/" and strips a leading "./" and
// a trailing "/"
func NormalizePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "\\", "/")
	pattern = strings.TrimPrefix(pattern, "./")
	pattern = strings.TrimSuffix(pattern, "/")
	return pattern
}

// ExclusionMatcher drops paths that should never become targets. A bare
// name without "/" or wildcards excludes a directory of that name anywhere.
type ExclusionMatcher struct {
	matcher *PatternMatcher
}

// NewExclusionMatcher creates an exclusion matcher
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	expanded := make([]string, 0, len(patterns)*2)
	for _, pattern := range patterns {
		pattern = NormalizePattern(pattern)
		switch {
		case !IsGlobPattern(pattern) && !strings.Contains(pattern, "/"):
			expanded = append(expanded, "**/"+pattern, "**/"+pattern+"/**")
		case !strings.Contains(pattern, "/"):
			expanded = append(expanded, "**/"+pattern)
		default:
			expanded = append(expanded, pattern)
		}
	}

	matcher, err := NewPatternMatcher(expanded)
	if err != nil {
		return nil, err
	}
	return &ExclusionMatcher{matcher: matcher}, nil
}

// IsExcluded checks if a path should be excluded
func (em *ExclusionMatcher) IsExcluded(path string) bool {
	return em.matcher.Match(path)
}

// GetDefaultExclusions returns the paths never treated as sources
func GetDefaultExclusions() []string {
	return []string{
		".git",
		".svn",
		".hg",
		".DS_Store",
		"Thumbs.db",
		"*.swp",
		"*~",
		"*.tmp",
		"*.bak",
		".*.tmp-*",
	}
}

// SelectTargets picks targets out of files, the slash-separated paths found
// under the source root. Literal includes are kept as given, glob includes
// select from files and an empty include list selects every file. The
// result is sorted and free of duplicates.
func SelectTargets(files, include, exclude []string) ([]string, error) {
	excl, err := NewExclusionMatcher(append(GetDefaultExclusions(), exclude...))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	add := func(path string) {
		if !seen[path] && !excl.IsExcluded(path) {
			seen[path] = true
			out = append(out, path)
		}
	}

	if len(include) == 0 {
		for _, f := range files {
			add(f)
		}
	}

	var globs []string
	for _, pattern := range include {
		pattern = NormalizePattern(pattern)
		if IsGlobPattern(pattern) {
			globs = append(globs, pattern)
		} else if pattern != "" {
			add(pattern)
		}
	}
	if len(globs) > 0 {
		pm, err := NewPatternMatcher(globs)
		if err != nil {
			return nil, err
		}
		for _, f := range pm.Filter(files) {
			add(f)
		}
	}

	sort.Strings(out)
	return out, nil
}
