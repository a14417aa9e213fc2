package respath

import "testing"

func TestTemplateRoundtrip(t *testing.T) {
	cases := []string{"tile0.cluster2.pe1", "tile.mem", "tile0.mem", "a1.b2.c3"}
	for _, c := range cases {
		tmpl := Template(c)
		if Template(tmpl) != tmpl {
			t.Errorf("Template(%q) = %q, Template(that) = %q, want idempotent", c, tmpl, Template(tmpl))
		}
	}
}

func TestMatchesTemplate(t *testing.T) {
	if !MatchesTemplate("tile0.cluster2.pe1", "tile.cluster.pe") {
		t.Error("expected match")
	}
	if MatchesTemplate("tile0.mem", "tile.cluster.pe") {
		t.Error("expected no match (different depth)")
	}
	if MatchesTemplate("tile0.cluster2.mem0", "tile.cluster.pe") {
		t.Error("expected no match (different leaf name)")
	}
}

func TestPopHead(t *testing.T) {
	head, rest, ok := PopHead("tile0.cluster2.pe1", ".")
	if !ok || head != "tile0" || rest != "cluster2.pe1" {
		t.Fatalf("got head=%q rest=%q ok=%v", head, rest, ok)
	}
	head, rest, ok = PopHead("pe1", ".")
	if ok || head != "pe1" || rest != "" {
		t.Fatalf("expected no remainder, got head=%q rest=%q ok=%v", head, rest, ok)
	}
}

func TestWithIndex(t *testing.T) {
	got := WithIndex("tile0.cluster.pe1", "cluster", 3)
	want := "tile0.cluster3.pe1"
	if got != want {
		t.Errorf("WithIndex() = %q, want %q", got, want)
	}
}

func TestDepth(t *testing.T) {
	if Depth("tile0.cluster2.pe1") != 3 {
		t.Errorf("expected depth 3")
	}
	if Depth("") != 0 {
		t.Errorf("expected depth 0 for empty path")
	}
}
