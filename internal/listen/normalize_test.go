package listen

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[alice/12:00]: hello", "hello"},
		{"[bob/09:00]: is anyone there", "is anyone there"},
		{"no annotation here", "no annotation here"},
		{"[a/b]: ", ""},
		{"[a/b]:trailing", "trailing"},
		{"", ""},
		{"mid [a/b]: text stays", "mid [a/b]: text stays"},
		{"[missing slash]: text", "[missing slash]: text"},
		// Only the first annotation is stripped; a second leading one
		// survives a single pass.
		{"[a/b]: [c/d]: nested", "[c/d]: nested"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIdempotentWithoutPrefix(t *testing.T) {
	once := Normalize("[alice/12:00]: hello")
	twice := Normalize(once)
	if once != twice {
		t.Errorf("second pass changed text: %q -> %q", once, twice)
	}
}
