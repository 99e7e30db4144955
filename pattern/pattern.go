// Package pattern matches interface names against the glob patterns an
// operator configures, and helps seed autoprobing for the purely
// literal ones.
package pattern

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"netplugd/errors"
)

// Set is an ordered list of glob patterns with a one-entry
// most-recently-matched cache, mirroring config.c's if_match: most
// daemons only ever see events for a handful of interfaces in a row, so
// checking the last match first avoids walking the whole list every
// time.
type Set struct {
	patterns []string
	memo     string
	haveMemo bool
}

// New returns an empty pattern set.
func New() *Set {
	return &Set{}
}

// Add appends name to the set after validating it as a glob pattern
// (save_pattern's fnmatch-against-"eth0" self-test, rendered here as a
// call to filepath.Match against a fixed sample name). An empty pattern
// is silently ignored, matching the original's "blank line" handling.
func (s *Set) Add(name string) error {
	if len(name) == 0 {
		return nil
	}
	if _, err := filepath.Match(name, "eth0"); err != nil {
		return errors.WrapWithDetail(err, errors.ErrPattern, "Add", name)
	}
	s.patterns = append(s.patterns, name)
	return nil
}

// Matches reports whether name matches any pattern in the set, checking
// the most-recently-matched pattern first.
func (s *Set) Matches(name string) bool {
	if s.haveMemo {
		if ok, _ := filepath.Match(s.memo, name); ok {
			return true
		}
	}
	for _, p := range s.patterns {
		if ok, _ := filepath.Match(p, name); ok {
			s.memo = p
			s.haveMemo = true
			return true
		}
	}
	return false
}

// Len returns the number of patterns in the set.
func (s *Set) Len() int {
	return len(s.patterns)
}

// Load reads newline-separated glob patterns from r, one per line,
// stripping leading whitespace, truncating at the first run of
// whitespace, and dropping '#' comments, matching read_config's
// handling of a plain text config file. filename is used only to
// annotate error messages; pass "stdin" for standard input.
func Load(r io.Reader, filename string) (*Set, error) {
	s := New()
	scanner := bufio.NewScanner(r)

	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := scanner.Text()

		trimmed := strings.TrimLeft(line, " \t")
		if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
			trimmed = trimmed[:i]
		}
		if i := strings.IndexByte(trimmed, '#'); i >= 0 {
			trimmed = trimmed[:i]
		}

		if err := s.Add(trimmed); err != nil {
			return nil, errors.WrapWithDetail(err, errors.ErrPattern, "Load",
				fmt.Sprintf("%s, line %d: bad pattern: %s", filename, lineNum, trimmed))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, "Load")
	}

	return s, nil
}

// metaIndex returns the index of the first glob metacharacter in s, or
// -1 if s is a plain literal, mirroring has_meta.
func metaIndex(s string) int {
	return strings.IndexAny(s, "[]*?")
}

// Prober is the narrow view of the supervisor that Probe needs: run a
// helper synchronously and report whether it succeeded, mirroring
// try_probe's use of run_netplug.
type Prober interface {
	Probe(ifaceName string) bool
}

// Probe attempts to seed autoprobing for every pattern in the set,
// mirroring probe_interfaces. Purely literal patterns are probed
// directly. Patterns whose metacharacters appear after a literal
// prefix are probed by appending digits 0-15 to that prefix, the
// classic "ethN" autoprobe trick; a metacharacter in the first position
// can't be turned into a concrete name and is skipped; it is reported
// in the unprobeable result rather than logged here.
// It returns the probed interface names that succeeded and the names
// of patterns that could not be probed at all.
func (s *Set) Probe(p Prober) (probed []string, unprobeable []string) {
	for _, pat := range s.patterns {
		m := metaIndex(pat)

		switch {
		case m == -1:
			if p.Probe(pat) {
				probed = append(probed, pat)
			}

		case m == 0:
			unprobeable = append(unprobeable, pat)

		default:
			prefix := pat[:m]
			for i := 0; i < 16; i++ {
				candidate := fmt.Sprintf("%s%d", prefix, i)
				if ok, _ := filepath.Match(pat, candidate); ok {
					if p.Probe(candidate) {
						probed = append(probed, candidate)
					}
				}
			}
		}
	}
	return probed, unprobeable
}
