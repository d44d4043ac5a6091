package sanitize

import (
	"errors"
	"testing"
)

func TestClean(t *testing.T) {
	s := New()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain text", input: "Hello, Leo!", want: "Hello, Leo!"},
		{name: "comparison survives", input: "a < b & c", want: "a < b & c"},
		{name: "quotes survive", input: `she said "hi"`, want: `she said "hi"`},
		{name: "whitespace trimmed", input: "  spaced  ", want: "spaced"},
		{
			name:  "escaped script stays escaped",
			input: "&lt;script&gt;alert(1)&lt;/script&gt;",
			want:  "&lt;script&gt;alert(1)&lt;/script&gt;",
		},
		{
			name:  "escaped img stays escaped",
			input: "&lt;img src=x onerror=alert(1)&gt;",
			want:  "&lt;img src=x onerror=alert(1)&gt;",
		},
		{name: "script rejected", input: "hi<script>alert('x')</script>", wantErr: true},
		{name: "tags rejected", input: "<b>bold</b> move", wantErr: true},
		{name: "markup only", input: "<img src=x onerror=alert(1)>", wantErr: true},
		{name: "tag-shaped text rejected", input: "if x<y and y>z then", wantErr: true},
		{name: "angle key name rejected", input: "use <Enter> to send", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Clean(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMarkup) {
					t.Fatalf("Clean(%q) = %q, %v; want ErrMarkup", tt.input, got, err)
				}
				if got != "" {
					t.Errorf("rejected text must not be returned, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Clean(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// Accepted output is never turned into markup by a second pass.
func TestCleanIsStable(t *testing.T) {
	s := New()
	for _, input := range []string{"a < b", "&lt;script&gt;", "x &amp;lt; y", "5 > 3"} {
		first, err := s.Clean(input)
		if err != nil {
			t.Fatalf("Clean(%q): %v", input, err)
		}
		second, err := s.Clean(first)
		if err != nil || second != first {
			t.Errorf("Clean not stable for %q: %q then %q, %v", input, first, second, err)
		}
	}
}
