// Package pathfilter implements the .reviewignore gitignore-style path
// filter, applied after the orchestrator's supports/safe-path filters.
// Only the subset of gitignore syntax .reviewignore needs is supported:
// #-comments, leading-/ anchoring, trailing-/ directory matching, and
// !-negation.
package pathfilter

import (
	"bufio"
	"io"
	"path"
	"strings"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// rule is one parsed .reviewignore line.
type rule struct {
	pattern  string
	negate   bool
	anchored bool // pattern started with "/": match only from repo root
	dirOnly  bool // pattern ended with "/": match only directory components
}

// Filter holds the parsed rule set in file order; later rules override
// earlier ones for a given path, matching git's own precedence.
type Filter struct {
	rules []rule
}

// Empty is a Filter with no rules: every path matches (is allowed).
var Empty = &Filter{}

// Parse reads a .reviewignore file's contents (or any equivalent
// io.Reader). An empty or absent file is a no-op; callers should pass
// Empty when the file doesn't exist rather than treating a missing file
// as an error.
func Parse(r io.Reader) (*Filter, error) {
	f := &Filter{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ru := rule{}
		if strings.HasPrefix(line, "!") {
			ru.negate = true
			line = line[1:]
		}
		if strings.HasPrefix(line, "/") {
			ru.anchored = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			ru.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		ru.pattern = line
		f.rules = append(f.rules, ru)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// Allowed reports whether p should still be reviewed after .reviewignore
// filtering: false means every rule applicable to p says "ignore" and no
// later negation rule overrides that.
func (f *Filter) Allowed(p models.CanonicalPath) bool {
	if f == nil || len(f.rules) == 0 {
		return true
	}
	clean := path.Clean(strings.TrimPrefix(string(p), "/"))
	ignored := false
	for _, ru := range f.rules {
		if !ru.matches(clean) {
			continue
		}
		ignored = !ru.negate
	}
	return !ignored
}

func (ru rule) matches(clean string) bool {
	segments := strings.Split(clean, "/")
	if ru.anchored {
		return globMatch(ru.pattern, clean) || hasDirPrefix(segments, ru.pattern)
	}
	// Unanchored: match the pattern against any path suffix/component,
	// mirroring gitignore's "matches in any directory" default.
	for i := range segments {
		suffix := strings.Join(segments[i:], "/")
		if globMatch(ru.pattern, suffix) {
			return true
		}
		if len(ru.pattern) > 0 && !strings.Contains(ru.pattern, "/") && globMatch(ru.pattern, segments[i]) {
			return true
		}
	}
	return false
}

func hasDirPrefix(segments []string, pattern string) bool {
	patternSegs := strings.Split(pattern, "/")
	if len(patternSegs) > len(segments) {
		return false
	}
	for i, seg := range patternSegs {
		if !globMatch(seg, segments[i]) {
			return false
		}
	}
	return true
}

func globMatch(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
