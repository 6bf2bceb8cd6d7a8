package triage

import (
	"fmt"
	"strings"
)

type textAccessor interface {
	Text() string
}

// ExtractText normalizes a model reply into trimmed plain text. It accepts a
// plain string, a *LLMResponse, content blocks, a list of mixed parts
// (strings, maps with a "text" key, values with a Text method), a map with a
// "text" key, or anything with a Text or String method. Unknown values are
// formatted with fmt.
func ExtractText(reply any) string {
	switch v := reply.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case *LLMResponse:
		return strings.TrimSpace(v.Text())
	case LLMResponse:
		return strings.TrimSpace(v.Text())
	case []ContentBlock:
		var b strings.Builder
		for _, c := range v {
			b.WriteString(c.Text)
		}
		return strings.TrimSpace(b.String())
	case []string:
		return strings.TrimSpace(strings.Join(v, ""))
	case []any:
		var b strings.Builder
		for _, part := range v {
			b.WriteString(partText(part))
		}
		return strings.TrimSpace(b.String())
	case map[string]any:
		return strings.TrimSpace(partText(v))
	case textAccessor:
		return strings.TrimSpace(v.Text())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func partText(part any) string {
	switch p := part.(type) {
	case nil:
		return ""
	case string:
		return p
	case map[string]any:
		s, _ := p["text"].(string)
		return s
	case ContentBlock:
		return p.Text
	case textAccessor:
		return p.Text()
	default:
		return fmt.Sprint(p)
	}
}
