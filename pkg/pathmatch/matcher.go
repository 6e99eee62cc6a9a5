// Package pathmatch provides the pattern matching used by policy rules:
// doublestar globs for file paths and cached regular expressions for
// command lines.
package pathmatch

import (
	"path/filepath"
	"regexp"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher reports whether a query value matches a configured rule pattern.
// Implementations must return an error for patterns that do not compile so
// the caller can decide how to treat malformed rules.
type Matcher interface {
	// MatchPath matches a file path against a glob pattern. `**` spans
	// path separators, `*` and `?` stay within one segment.
	MatchPath(pattern, path string) (bool, error)

	// MatchCommand tests a command line against an (unanchored) regular
	// expression.
	MatchCommand(pattern, command string) (bool, error)
}

// New returns a Matcher backed by doublestar globs and a compiled-regexp
// cache. Safe for concurrent use.
func New() Matcher {
	return &matcher{}
}

type matcher struct {
	regexps sync.Map // pattern string -> *regexp.Regexp
}

func (m *matcher) MatchPath(pattern, path string) (bool, error) {
	// doublestar matches on forward slashes only.
	return doublestar.Match(filepath.ToSlash(pattern), filepath.ToSlash(path))
}

func (m *matcher) MatchCommand(pattern, command string) (bool, error) {
	re, err := m.compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(command), nil
}

func (m *matcher) compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := m.regexps.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	m.regexps.Store(pattern, re)
	return re, nil
}
