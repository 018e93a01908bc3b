package gate

import (
	"strings"
	"testing"
)

func TestMarkerPresentMixedCase(t *testing.T) {
	m := NewMarker("[end]")
	for _, s := range []string{
		"goodbye [end]",
		"goodbye [END]",
		"goodbye [End]",
		"[eNd] goodbye",
		"mid[end]sentence",
	} {
		if !m.Present(s) {
			t.Errorf("marker not detected in %q", s)
		}
	}
	for _, s := range []string{
		"goodbye",
		"end of the line",
		"(end)",
		"[ end ]",
	} {
		if m.Present(s) {
			t.Errorf("false positive in %q", s)
		}
	}
}

func TestMarkerStripRemovesAllOccurrences(t *testing.T) {
	m := NewMarker("[end]")
	got := m.Strip("so long [end] farewell [END] auf wiedersehen [eNd]")
	if strings.Contains(strings.ToLower(got), "[end]") {
		t.Fatalf("marker survived stripping: %q", got)
	}
	if got != "so long  farewell  auf wiedersehen" {
		t.Fatalf("unexpected cleaned text %q", got)
	}
}

func TestMarkerStripTrimsEdges(t *testing.T) {
	m := NewMarker("[end]")
	if got := m.Strip("[end] bye [end]"); got != "bye" {
		t.Fatalf("unexpected cleaned text %q", got)
	}
	if got := m.Strip("[end]"); got != "" {
		t.Fatalf("marker-only reply should strip to empty, got %q", got)
	}
}

func TestMarkerNoOpWhenAbsent(t *testing.T) {
	m := NewMarker("[end]")
	if got := m.Strip("nothing to see"); got != "nothing to see" {
		t.Fatalf("unexpected mutation %q", got)
	}
}

func TestNewMarkerDefaultsToken(t *testing.T) {
	m := NewMarker("")
	if !m.Present("done [end]") {
		t.Fatal("empty token must fall back to the default marker")
	}
}

func TestMarkerCustomTokenQuoted(t *testing.T) {
	// Regex metacharacters in the token must be treated literally.
	m := NewMarker("<done?>")
	if !m.Present("ok <DONE?>") {
		t.Fatal("custom token not detected")
	}
	if m.Present("ok <done>") {
		t.Fatal("token must match literally, not as a regex")
	}
}
