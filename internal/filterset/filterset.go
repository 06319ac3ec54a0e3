// Package filterset evaluates the fixed-order predicate chain from
// spec.md §4.2 against a single FileEntry. It is a pure function of its
// configuration and the entry; no I/O, no shared state.
package filterset

import (
	"regexp"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/duplisweep/duplisweep/internal/model"
)

// Set holds the configured predicates. Evaluation order is fixed:
// min_size, max_size, newer_than, older_than, category, glob, regex —
// and short-circuits on the first predicate that rejects the entry.
type Set struct {
	MinSize    *uint64
	MaxSize    *uint64
	NewerThan  *time.Time
	OlderThan  *time.Time
	Categories map[model.Category]bool // nil/empty = all categories allowed

	GlobInclude []string
	GlobExclude []string

	RegexInclude []*regexp.Regexp
	RegexExclude []*regexp.Regexp

	globInclude *gitignore.GitIgnore
	globExclude *gitignore.GitIgnore
	compiled    bool
}

// Compile builds the gitignore matchers from GlobInclude/GlobExclude. Match
// calls it on first use if it has not been called yet; repeated calls are
// safe but wasteful.
func (s *Set) Compile() error {
	if len(s.GlobInclude) > 0 {
		s.globInclude = gitignore.CompileIgnoreLines(s.GlobInclude...)
	}
	if len(s.GlobExclude) > 0 {
		s.globExclude = gitignore.CompileIgnoreLines(s.GlobExclude...)
	}
	s.compiled = true
	return nil
}

// Match reports whether e passes every configured predicate, evaluating
// them in the fixed order from spec.md §4.2.
func (s *Set) Match(e *model.FileEntry) bool {
	if !s.compiled {
		_ = s.Compile()
	}

	if s.MinSize != nil && e.Size < *s.MinSize {
		return false
	}
	if s.MaxSize != nil && e.Size > *s.MaxSize {
		return false
	}
	if s.NewerThan != nil {
		mt := time.Unix(e.MTimeSec, e.MTimeNsec)
		if mt.Before(*s.NewerThan) {
			return false
		}
	}
	if s.OlderThan != nil {
		mt := time.Unix(e.MTimeSec, e.MTimeNsec)
		if mt.After(*s.OlderThan) {
			return false
		}
	}
	if len(s.Categories) > 0 && !s.Categories[e.Category] {
		return false
	}
	if s.globInclude != nil && !s.globInclude.MatchesPath(e.Path) {
		return false
	}
	if s.globExclude != nil && s.globExclude.MatchesPath(e.Path) {
		return false
	}
	for _, re := range s.RegexInclude {
		if !re.MatchString(e.Path) {
			return false
		}
	}
	for _, re := range s.RegexExclude {
		if re.MatchString(e.Path) {
			return false
		}
	}
	return true
}

// AnchorRegex compiles pattern as a regex anchored to the full path, per
// spec.md §4.2 ("Regex patterns are anchored to the full path").
func AnchorRegex(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")$")
}
