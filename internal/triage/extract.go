package triage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Strategy names how the account identifier was obtained.
type Strategy string

const (
	StrategySupplied Strategy = "supplied"
	StrategyStrict   Strategy = "strict"
	StrategyMerchant Strategy = "merchant_label"
	StrategyGeneric  Strategy = "generic_label"
	StrategyModel    Strategy = "model"
	StrategyNone     Strategy = "none"
)

const (
	extractMaxTokens = 64
	// model answers this long or longer are prose, not an identifier
	maxExtractedIDLen = 50
)

var (
	strictIDPattern   = regexp.MustCompile(`(?i)m_(?:ecom_)?\d+`)
	merchantIDPattern = regexp.MustCompile(`(?i)merchant\s*(?:id)?[:\s]+([a-zA-Z0-9_-]+)`)
	genericIDPattern  = regexp.MustCompile(`(?i)(?:id|account|customer)[:\s=]+([a-zA-Z0-9_-]+)`)
	digitsPattern     = regexp.MustCompile(`^[0-9]+$`)
)

type extractor struct {
	llm *llmCaller
}

// extract resolves the account identifier for text. A non-blank supplied
// identifier short-circuits every strategy and adds nothing to the trace.
func (x *extractor) extract(ctx context.Context, text, supplied string) (Update, Strategy) {
	if strings.TrimSpace(supplied) != "" {
		return Update{AccountID: ptr(supplied), Trace: []string{}}, StrategySupplied
	}

	if m := strictIDPattern.FindString(text); m != "" {
		id := strings.ToLower(m)
		return Update{AccountID: ptr(id), Trace: []string{"Extracted Merchant ID: " + id}}, StrategyStrict
	}

	if m := merchantIDPattern.FindStringSubmatch(text); m != nil {
		id := withPrefix(m[1])
		return Update{AccountID: ptr(id), Trace: []string{"Extracted Merchant ID: " + id}}, StrategyMerchant
	}

	if m := genericIDPattern.FindStringSubmatch(text); m != nil {
		id := withPrefix(m[1])
		return Update{AccountID: ptr(id), Trace: []string{"Extracted ID: " + id}}, StrategyGeneric
	}

	trace := []string{"Using AI to extract merchant information..."}

	resp, err := x.llm.send(ctx, "extract", &LLMRequest{
		MaxTokens: extractMaxTokens,
		Messages:  []Message{userMessage(buildExtractPrompt(text))},
	})
	if err != nil {
		trace = append(trace, "Could not extract merchant ID: "+err.Error())
		return Update{Trace: trace}, StrategyNone
	}

	id, ok := parseExtractedID(ExtractText(resp))
	if !ok {
		trace = append(trace, "No Merchant ID found in ticket")
		return Update{Trace: trace}, StrategyNone
	}

	trace = append(trace, "AI extracted Merchant ID: "+id)
	return Update{AccountID: ptr(id), Trace: trace}, StrategyModel
}

// parseExtractedID interprets the model's bare-identifier answer.
func parseExtractedID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "NONE") || len(raw) >= maxExtractedIDLen {
		return "", false
	}

	id := strings.TrimSpace(strings.Trim(raw, "\"'`"))
	if id == "" || strings.EqualFold(id, "NONE") {
		return "", false
	}
	return withPrefix(id), true
}

// withPrefix turns a purely numeric identifier into its canonical m_ form.
func withPrefix(id string) string {
	if digitsPattern.MatchString(id) {
		return "m_" + id
	}
	return id
}

func buildExtractPrompt(text string) string {
	return fmt.Sprintf(`Extract the merchant ID, customer ID, or account ID from this support ticket.

Ticket: %s

If you find an ID, respond with ONLY the ID (e.g., "m_123" or "123").
If no ID is found, respond with "NONE".
Do not include any other text.`, text)
}
