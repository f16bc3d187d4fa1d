package completion

import "testing"

func TestGeneralMatches(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Task is done", true},
		{"I completed the refactor", true},
		{"still working on it", false},
		{"", false},
	}
	for _, c := range cases {
		if got := generalMatches(c.text); got != c.want {
			t.Errorf("generalMatches(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestExcludeMatches(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"not yet complete", true},
		{"planning to finish soon", true},
		{"are we done?", true},
		{"task complete.", false},
	}
	for _, c := range cases {
		if got := excludeMatches(c.text); got != c.want {
			t.Errorf("excludeMatches(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestCompletionPatterns_MatchCanonicalDeclarations(t *testing.T) {
	declarations := []string{
		"Task is complete.",
		"task complete",
		"I've finished the task.",
		"All requirements have been met.",
	}
	for _, d := range declarations {
		matched := false
		for _, p := range completionPatterns {
			if p.MatchString(d) {
				matched = true
				break
			}
		}
		if !matched {
			t.Errorf("expected %q to match one of the canonical completion patterns", d)
		}
	}
}

func TestCompletionPatterns_RejectNonDeclarations(t *testing.T) {
	notDeclarations := []string{
		"I think the task might be complete soon",
		"working on completing the task",
	}
	for _, d := range notDeclarations {
		for _, p := range completionPatterns {
			if p.MatchString(d) {
				t.Errorf("did not expect %q to match a canonical completion pattern", d)
			}
		}
	}
}

func TestDetector_NewSince(t *testing.T) {
	d := New(nil, nil, nil, nil)

	first := d.newSince("agent-1", "hello")
	if first != "hello" {
		t.Errorf("expected full text on first call, got %q", first)
	}

	second := d.newSince("agent-1", "hello world")
	if second != " world" {
		t.Errorf("expected only the new suffix, got %q", second)
	}
}

func TestDetector_NewSince_TextReset(t *testing.T) {
	d := New(nil, nil, nil, nil)
	d.newSince("agent-1", "old output")

	got := d.newSince("agent-1", "entirely different output")
	if got != "entirely different output" {
		t.Errorf("expected full text when prior text is no longer a prefix, got %q", got)
	}
}
