package pane

import "testing"

func TestLooksLikeNotFound(t *testing.T) {
	cases := []struct {
		output string
		want   bool
	}{
		{"can't find session main", true},
		{"no such pane", true},
		{"session not found", true},
		{"pane not found", true},
		{"some other tmux error", false},
	}
	for _, c := range cases {
		if got := looksLikeNotFound(c.output); got != c.want {
			t.Errorf("looksLikeNotFound(%q) = %v, want %v", c.output, got, c.want)
		}
	}
}

func TestSpecialKey(t *testing.T) {
	cases := []struct {
		token   string
		want    string
		wantOK  bool
	}{
		{"Escape", "Escape", true},
		{"Enter", "Enter", true},
		{"Ctrl+C", "C-c", true},
		{"hello", "", false},
	}
	for _, c := range cases {
		got, ok := specialKey(c.token)
		if got != c.want || ok != c.wantOK {
			t.Errorf("specialKey(%q) = (%q, %v), want (%q, %v)", c.token, got, ok, c.want, c.wantOK)
		}
	}
}

func TestGet_ReturnsSameSingleton(t *testing.T) {
	a1 := Get()
	a2 := Get()
	if a1 != a2 {
		t.Error("expected Get to return the same singleton instance")
	}
}

func TestError_UnwrapAndMessage(t *testing.T) {
	base := errorStub("boom")
	err := &Error{Kind: KindIOError, Target: "main:0.0", Op: "capture-pane", Err: base}

	if err.Unwrap() != base {
		t.Error("expected Unwrap to return the wrapped error")
	}
	if err.Error() == "" {
		t.Error("expected a non-empty error message")
	}
}

type errorStub string

func (e errorStub) Error() string { return string(e) }
