package telegram

import (
	"strings"
	"testing"
)

func TestChunkMessage(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		maxLen     int
		wantChunks int
	}{
		{"short", "hello", 4096, 1},
		{"exact limit", strings.Repeat("a", 4096), 4096, 1},
		{"over limit", strings.Repeat("a", 8192), 4096, 2},
		{"empty", "", 4096, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := chunkMessage(tt.text, tt.maxLen)
			if len(chunks) != tt.wantChunks {
				t.Errorf("expected %d chunks, got %d", tt.wantChunks, len(chunks))
			}
			if joined := strings.Join(chunks, ""); joined != tt.text {
				t.Error("chunks do not reassemble to the original text")
			}
		})
	}
}

func TestChunkMessageSplitsAtNewline(t *testing.T) {
	text := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 1999)
	chunks := chunkMessage(text, 4096)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	// Split lands just after the newline, not mid-word at the limit.
	if len(chunks[0]) != 3001 {
		t.Errorf("expected first chunk length 3001, got %d", len(chunks[0]))
	}
}

func TestToTelegramMarkdown(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"**bold**", "*bold*"},
		{"hello **world**!", "hello *world*!"},
		{"**a** and **b**", "*a* and *b*"},
		{"no bold here", "no bold here"},
		{"*already single*", "*already single*"},
	}
	for _, tt := range tests {
		got := toTelegramMarkdown(tt.in)
		if got != tt.want {
			t.Errorf("toTelegramMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
