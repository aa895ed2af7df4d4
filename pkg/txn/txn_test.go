package txn

import (
	"reflect"
	"testing"
)

func TestParseSourceRef(t *testing.T) {
	addr, filename, err := ParseSourceRef("p1:cat.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "p1" || filename != "cat.png" {
		t.Fatalf("got (%q, %q), want (p1, cat.png)", addr, filename)
	}
}

func TestParseSourceRefFilenameWithColon(t *testing.T) {
	addr, filename, err := ParseSourceRef("p1:dir:cat.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "p1" || filename != "dir:cat.png" {
		t.Fatalf("got (%q, %q), want (p1, dir:cat.png)", addr, filename)
	}
}

func TestParseSourceRefMalformed(t *testing.T) {
	cases := []string{"noColonHere", ":cat.png", "p1:"}
	for _, c := range cases {
		if _, _, err := ParseSourceRef(c); err == nil {
			t.Errorf("ParseSourceRef(%q): expected error, got nil", c)
		}
	}
}

func TestGroupSources(t *testing.T) {
	var bad []string
	refs := []string{"p1:a.png", "p2:b.png", "p1:c.png", "malformed"}
	grouped := GroupSources(refs, func(ref string, err error) {
		bad = append(bad, ref)
	})

	want := map[Address][]string{
		"p1": {"a.png", "c.png"},
		"p2": {"b.png"},
	}
	if !reflect.DeepEqual(grouped, want) {
		t.Fatalf("got %v, want %v", grouped, want)
	}
	if len(bad) != 1 || bad[0] != "malformed" {
		t.Fatalf("onBad calls = %v, want [malformed]", bad)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateInit, StatePreparing, StateCommitting, StateAborting} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
	for _, s := range []State{StateCommitted, StateAborted} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
}

func TestStateJSONRoundTrip(t *testing.T) {
	for _, s := range []State{StateInit, StatePreparing, StateCommitting, StateAborting, StateCommitted, StateAborted} {
		data, err := s.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%s): %v", s, err)
		}
		var got State
		if err := got.UnmarshalJSON(data); err != nil {
			t.Fatalf("UnmarshalJSON(%s): %v", data, err)
		}
		if got != s {
			t.Errorf("round trip %s -> %q -> %s", s, data, got)
		}
	}
}
