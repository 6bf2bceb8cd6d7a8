package triage

import "testing"

type textPart struct{ s string }

func (p textPart) Text() string { return p.s }

type stringerPart struct{ s string }

func (p stringerPart) String() string { return p.s }

func TestExtractText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply any
		want  string
	}{
		{"nil", nil, ""},
		{"string trimmed", "  hello \n", "hello"},
		{"response", textResponse(" from blocks "), "from blocks"},
		{"nil response", (*LLMResponse)(nil), ""},
		{"blocks", []ContentBlock{{Type: "text", Text: "a"}, {Type: "text", Text: "b"}}, "ab"},
		{"mixed list", []any{"a", map[string]any{"text": "b"}, textPart{"c"}, map[string]any{"other": 1}, 4}, "abc4"},
		{"map with text", map[string]any{"text": " t "}, "t"},
		{"map without text", map[string]any{"x": "y"}, ""},
		{"text accessor", textPart{"acc"}, "acc"},
		{"stringer", stringerPart{"str"}, "str"},
		{"fallback", 42, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractText(tt.reply); got != tt.want {
				t.Errorf("ExtractText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponseText_SkipsNonText(t *testing.T) {
	t.Parallel()

	r := &LLMResponse{Content: []ContentBlock{{Type: "thinking", Text: "hmm"}, {Type: "text", Text: "answer"}}}
	if got := r.Text(); got != "answer" {
		t.Errorf("Text = %q, want answer", got)
	}
}
