package telegram

import (
	"strings"
	"testing"

	logx "chime/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     string
		limit  int
		chunks int
	}{
		{name: "empty", in: "\n", limit: 10, chunks: 0},
		{name: "short", in: "hello", limit: 10, chunks: 1},
		{name: "hard cut", in: strings.Repeat("a", 25), limit: 10, chunks: 3},
		{name: "newline cut", in: "aaaaaaa\nbbbbbbb\nccc", limit: 10, chunks: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tt.in, tt.limit)
			if len(got) != tt.chunks {
				t.Fatalf("chunks = %q, want %d", got, tt.chunks)
			}
			for _, c := range got {
				if n := len([]rune(c)); n > tt.limit {
					t.Fatalf("chunk %q has %d runes", c, n)
				}
			}
		})
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "123:abc"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing chat id")
	}
	c, err := New(Config{Token: "123:abc", ChatID: 42}, logx.Nop())
	if err != nil || c == nil {
		t.Fatalf("New offline = %v, %v", c, err)
	}
}
