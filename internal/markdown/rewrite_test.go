package markdown

import (
	"strings"
	"testing"
)

func TestRewriteLinks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		src   string
		links map[string]string
		want  string
	}{
		{
			name:  "inline",
			src:   "Wraps a [`Vec`](std::vec::Vec) of bytes.",
			links: map[string]string{"std::vec::Vec": "rsdoc://alloc/latest/vec::Vec"},
			want:  "Wraps a [`Vec`](rsdoc://alloc/latest/vec::Vec) of bytes.",
		},
		{
			name:  "reference definition",
			src:   "Built by [the builder][b].\n\n[b]: crate::Builder",
			links: map[string]string{"crate::Builder": "rsdoc://demo/1.0.0/Builder"},
			want:  "Built by [the builder][b].\n\n[b]: rsdoc://demo/1.0.0/Builder",
		},
		{
			name: "shortcut",
			src:  "Returns a [`Value`] or an [Error].",
			links: map[string]string{
				"`Value`": "rsdoc://serde_json/1.0.0/Value",
				"Error":   "rsdoc://serde_json/1.0.0/Error",
			},
			want: "Returns a [`Value`](rsdoc://serde_json/1.0.0/Value) or an [Error](rsdoc://serde_json/1.0.0/Error).",
		},
		{
			name:  "shortcut at end of input",
			src:   "Fails with [Error]",
			links: map[string]string{"Error": "rsdoc://demo/1.0.0/Error"},
			want:  "Fails with [Error](rsdoc://demo/1.0.0/Error)",
		},
		{
			name:  "shortcut already followed by a destination",
			src:   "See [Error] and [Error](Error).",
			links: map[string]string{"Error": "rsdoc://e"},
			want:  "See [Error](rsdoc://e) and [Error](rsdoc://e).",
		},
		{
			name:  "repeated destination",
			src:   "[a](x) then [b](x).",
			links: map[string]string{"x": "rsdoc://y"},
			want:  "[a](rsdoc://y) then [b](rsdoc://y).",
		},
		{
			name:  "unmatched destinations untouched",
			src:   "See [this](keep-me).",
			links: map[string]string{"other": "rsdoc://x"},
			want:  "See [this](keep-me).",
		},
		{
			name: "nil map",
			src:  "Hello [world](url).",
			want: "Hello [world](url).",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RewriteLinks(tt.src, tt.links); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddFrontMatter(t *testing.T) {
	t.Parallel()

	got := AddFrontMatter("# demo::Widget\n", map[string]string{
		"panics":  "rsdoc://demo/1.0.0/Widget#panics",
		"members": "rsdoc://demo/1.0.0/Widget#members",
	})
	want := "---\nmembers: rsdoc://demo/1.0.0/Widget#members\npanics: rsdoc://demo/1.0.0/Widget#panics\n---\n\n# demo::Widget\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := AddFrontMatter("body", nil); got != "body" {
		t.Errorf("expected unchanged body without fields, got %q", got)
	}
	if strings.HasPrefix(AddFrontMatter("body", map[string]string{}), "---") {
		t.Error("empty field map should not add front matter")
	}
}
