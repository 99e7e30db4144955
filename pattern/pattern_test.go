package pattern

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestAdd_RejectsBadPattern(t *testing.T) {
	s := New()
	if err := s.Add("[unterminated"); err == nil {
		t.Error("expected error for malformed glob pattern")
	}
}

func TestAdd_IgnoresEmpty(t *testing.T) {
	s := New()
	if err := s.Add(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestMatches_Literal(t *testing.T) {
	s := New()
	if err := s.Add("eth0"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !s.Matches("eth0") {
		t.Error("expected eth0 to match literal pattern eth0")
	}
	if s.Matches("eth1") {
		t.Error("expected eth1 not to match literal pattern eth0")
	}
}

func TestMatches_Glob(t *testing.T) {
	s := New()
	if err := s.Add("eth*"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	for _, name := range []string{"eth0", "eth1", "eth23"} {
		if !s.Matches(name) {
			t.Errorf("expected %s to match eth*", name)
		}
	}
	if s.Matches("wlan0") {
		t.Error("expected wlan0 not to match eth*")
	}
}

func TestMatches_CharacterClass(t *testing.T) {
	s := New()
	if err := s.Add("eth[01]"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !s.Matches("eth0") || !s.Matches("eth1") {
		t.Error("expected eth0 and eth1 to match eth[01]")
	}
	if s.Matches("eth2") {
		t.Error("expected eth2 not to match eth[01]")
	}
}

func TestMatches_MRUCacheHitAndMiss(t *testing.T) {
	s := New()
	if err := s.Add("wlan*"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("eth*"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Populate the MRU cache with eth*, then check it serves a later
	// eth-prefixed lookup without falling through to the pattern list.
	if !s.Matches("eth0") {
		t.Fatal("expected eth0 to match")
	}
	if s.memo != "eth*" {
		t.Errorf("memo = %q, want eth*", s.memo)
	}
	if !s.Matches("eth5") {
		t.Error("expected eth5 to match via cached pattern")
	}

	if !s.Matches("wlan2") {
		t.Error("expected wlan2 to match after cache miss")
	}
	if s.memo != "wlan*" {
		t.Errorf("memo = %q, want wlan*", s.memo)
	}
}

func TestLoad_ParsesPatterns(t *testing.T) {
	input := "eth*\n  wlan0  \n# comment\n\nusb[0-9] # trailing comment\n"
	s, err := Load(strings.NewReader(input), "test.conf")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if !s.Matches("eth0") {
		t.Error("expected eth0 to match eth*")
	}
	if !s.Matches("wlan0") {
		t.Error("expected exact match on wlan0")
	}
	if !s.Matches("usb3") {
		t.Error("expected usb3 to match usb[0-9]")
	}
}

func TestLoad_BadPatternReportsLineNumber(t *testing.T) {
	input := "eth0\n[bad\n"
	_, err := Load(strings.NewReader(input), "netplugd.conf")
	if err == nil {
		t.Fatal("expected error for malformed pattern")
	}
	if !strings.Contains(err.Error(), "netplugd.conf, line 2") {
		t.Errorf("error = %v, want it to mention line 2", err)
	}
}

type fakeProber struct {
	succeed map[string]bool
	calls   []string
}

func (f *fakeProber) Probe(name string) bool {
	f.calls = append(f.calls, name)
	return f.succeed[name]
}

func TestProbe_LiteralPattern(t *testing.T) {
	s := New()
	_ = s.Add("eth0")
	p := &fakeProber{succeed: map[string]bool{"eth0": true}}

	probed, unprobeable := s.Probe(p)
	if len(probed) != 1 || probed[0] != "eth0" {
		t.Errorf("probed = %v, want [eth0]", probed)
	}
	if len(unprobeable) != 0 {
		t.Errorf("unprobeable = %v, want none", unprobeable)
	}
}

func TestProbe_GlobWithLiteralPrefixTriesDigits(t *testing.T) {
	s := New()
	_ = s.Add("eth[01]")
	p := &fakeProber{succeed: map[string]bool{"eth0": true, "eth1": true}}

	probed, _ := s.Probe(p)
	if len(probed) != 2 {
		t.Fatalf("probed = %v, want 2 entries", probed)
	}
	want := map[string]bool{"eth0": true, "eth1": true}
	for _, name := range probed {
		if !want[name] {
			t.Errorf("unexpected probed name %q", name)
		}
	}
}

func TestProbe_LeadingMetacharacterIsUnprobeable(t *testing.T) {
	s := New()
	_ = s.Add("*")
	p := &fakeProber{}

	probed, unprobeable := s.Probe(p)
	if len(probed) != 0 {
		t.Errorf("probed = %v, want none", probed)
	}
	if len(unprobeable) != 1 || unprobeable[0] != "*" {
		t.Errorf("unprobeable = %v, want [*]", unprobeable)
	}
}

// TestMatchesMonotonic is a property test: adding more patterns to a set
// can only ever grow the set of names it matches, never shrink it.
func TestMatchesMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		names := []string{"eth0", "eth1", "wlan0", "usb0", "lo"}
		literalPat := rapid.SampledFrom(names)

		s := New()
		before := map[string]bool{}
		for _, n := range names {
			before[n] = s.Matches(n)
		}

		newPat := literalPat.Draw(rt, "pattern")
		if err := s.Add(newPat); err != nil {
			rt.Fatalf("Add: %v", err)
		}

		for _, n := range names {
			if before[n] && !s.Matches(n) {
				rt.Fatalf("match for %q regressed after adding pattern %q", n, newPat)
			}
		}
	})
}
