package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	synthMaxTokens   = 2048
	synthTemperature = 0.3
	maxSynthAttempts = 3
	backoffBase      = 5 * time.Second
	promptDocLimit   = 3
	// raw replies longer than this are returned to the agent verbatim when
	// they cannot be parsed
	salvageMinLen = 50

	defaultDiagnosis = "Unable to generate diagnosis."
	defaultAction    = "Please contact support for assistance."
	defaultConf      = 0.5

	salvagedDiagnosis = "**Analysis Complete**: The AI analyzed the issue (response format was non-standard)."
	salvagedConf      = 0.6
	invalidDiagnosis  = "**Analysis Error**: The AI response was empty or invalid."
	invalidAction     = "Please contact support for assistance with this issue."
	fallbackConf      = 0.3

	// CannedReply is the customer reply used when the model cannot be reached.
	CannedReply = "Hi,\n\n" +
		"Thank you for reaching out. I'm currently reviewing your case and will get back to you shortly.\n\n" +
		"In the meantime, please ensure you have:\n" +
		"1. Your Merchant ID ready\n" +
		"2. Any error messages you've encountered\n" +
		"3. The approximate time the issue occurred\n\n" +
		"Best regards,\nSupport Team"
)

// Outcome classifies how the synthesis stage produced its result.
type Outcome string

const (
	OutcomeParsed   Outcome = "parsed"
	OutcomeSalvaged Outcome = "salvaged"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeLLMError Outcome = "llm_error"
)

var errEmptyReply = errors.New("empty response from LLM")

type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the wait before retry number attempt+1: 5s, 10s, 20s, ...
func backoff(attempt int) time.Duration {
	return backoffBase << attempt
}

type synthesizer struct {
	llm     *llmCaller
	sleep   sleepFunc
	onRetry func(attempt int, wait time.Duration)
}

// synthesize builds the prompt from st, calls the model and turns the reply
// into diagnosis fields. It never fails: call errors and unusable replies
// resolve to fallback values.
func (s *synthesizer) synthesize(ctx context.Context, st State) (Update, Outcome) {
	trace := []string{"Sending context to the model for analysis..."}

	req := &LLMRequest{
		MaxTokens:   synthMaxTokens,
		System:      systemPrompt,
		Messages:    []Message{userMessage(buildUserPrompt(st))},
		Temperature: synthTemperature,
	}

	resp, waits, err := s.callWithRetry(ctx, req)
	trace = append(trace, waits...)
	if err != nil {
		return callFailure(trace, err), OutcomeLLMError
	}

	// an empty reply is a failed call, not an unparseable one
	text := ExtractText(resp)
	if text == "" {
		return callFailure(trace, errEmptyReply), OutcomeLLMError
	}

	reply, err := parseDiagnosis(text)
	if err != nil {
		trace = append(trace,
			"Failed to parse LLM response as JSON: "+err.Error(),
			"Falling back to raw response",
		)
		if len(text) > salvageMinLen {
			return Update{
				Diagnosis:         ptr(salvagedDiagnosis),
				Confidence:        ptr(salvagedConf),
				RecommendedAction: ptr(text),
				Trace:             trace,
			}, OutcomeSalvaged
		}
		return Update{
			Diagnosis:         ptr(invalidDiagnosis),
			Confidence:        ptr(fallbackConf),
			RecommendedAction: ptr(invalidAction),
			Trace:             trace,
		}, OutcomeInvalid
	}

	diagnosis, conf, action := reply.values()
	trace = append(trace,
		"Model analysis complete",
		fmt.Sprintf("Generated diagnosis with %d%% confidence", int(conf*100)),
		"Analysis complete",
	)
	return Update{
		Diagnosis:         ptr(diagnosis),
		Confidence:        ptr(conf),
		RecommendedAction: ptr(action),
		Trace:             trace,
	}, OutcomeParsed
}

func callFailure(trace []string, err error) Update {
	trace = append(trace, "LLM Error: "+err.Error(), "Using fallback response")
	return Update{
		Diagnosis:         ptr("**Analysis Error**: Unable to complete AI analysis. Error: " + err.Error()),
		Confidence:        ptr(fallbackConf),
		RecommendedAction: ptr(CannedReply),
		Trace:             trace,
	}
}

// callWithRetry sends req, retrying rate-limited calls with exponential
// backoff. It returns one trace line per wait.
func (s *synthesizer) callWithRetry(ctx context.Context, req *LLMRequest) (*LLMResponse, []string, error) {
	var waits []string
	for attempt := 0; ; attempt++ {
		resp, err := s.llm.send(ctx, "synthesize", req)
		if err == nil {
			return resp, waits, nil
		}
		if !IsRateLimited(err) || attempt >= maxSynthAttempts-1 {
			return nil, waits, err
		}

		wait := backoff(attempt)
		waits = append(waits, fmt.Sprintf("Rate limited, waiting %ds before retry...", int(wait/time.Second)))
		if s.onRetry != nil {
			s.onRetry(attempt+1, wait)
		}
		if err := s.sleep(ctx, wait); err != nil {
			return nil, waits, fmt.Errorf("waiting to retry: %w", err)
		}
	}
}

// diagnosisReply is the JSON contract the model is asked to answer with.
// Missing fields take defaults.
type diagnosisReply struct {
	Diagnosis         flexText  `json:"diagnosis"`
	Confidence        flexFloat `json:"confidence_score"`
	RecommendedAction flexText  `json:"recommended_action"`
}

func (r *diagnosisReply) values() (diagnosis string, conf float64, action string) {
	diagnosis, conf, action = defaultDiagnosis, defaultConf, defaultAction
	if r.Diagnosis.ok {
		diagnosis = r.Diagnosis.v
	}
	if r.Confidence.ok {
		conf = r.Confidence.v
	}
	if r.RecommendedAction.ok {
		action = r.RecommendedAction.v
	}
	return diagnosis, clampConfidence(conf), action
}

// flexText accepts a JSON string or an array of strings, joined one per
// line. Any other value leaves ok false so the default applies.
type flexText struct {
	v  string
	ok bool
}

func (f *flexText) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.v, f.ok = s, true
		return nil
	}
	var items []any
	if err := json.Unmarshal(b, &items); err != nil {
		return nil
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			lines = append(lines, strings.TrimSpace(s))
		}
	}
	if len(lines) > 0 {
		f.v, f.ok = strings.Join(lines, "\n"), true
	}
	return nil
}

// flexFloat accepts a JSON number or a numeric string. Anything else leaves
// ok false so the default applies.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		f.v, f.ok = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			f.v, f.ok = n, true
		}
	}
	return nil
}

func parseDiagnosis(text string) (*diagnosisReply, error) {
	if text == "" {
		return nil, errEmptyReply
	}
	var r diagnosisReply
	if err := json.Unmarshal([]byte(stripFences(text)), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// stripFences extracts the JSON payload from a reply that may wrap it in a
// markdown code fence or surround it with prose.
func stripFences(text string) string {
	out := text
	if i := strings.Index(text, "```json"); i >= 0 {
		out = fenced(text, i+len("```json"), out)
	} else if i := strings.Index(text, "```"); i >= 0 {
		out = fenced(text, i+len("```"), out)
	}

	if !strings.HasPrefix(out, "{") {
		start := strings.Index(out, "{")
		end := strings.LastIndex(out, "}") + 1
		if start >= 0 && end > start {
			out = out[start:end]
		}
	}
	return out
}

// fenced returns the trimmed text between start and the next fence, or def
// when there is no non-empty fenced body.
func fenced(text string, start int, def string) string {
	end := strings.Index(text[start:], "```")
	if end <= 0 {
		return def
	}
	return strings.TrimSpace(text[start : start+end])
}

const systemPrompt = `You are an expert technical support agent for an e-commerce platform that helps merchants migrate from fully-hosted solutions (Shopify, BigCommerce, Magento) to headless architecture.

Your expertise covers:
- Headless commerce architecture (Next.js, React storefronts, headless CMS)
- Storefront APIs (GraphQL, REST), authentication, and session management
- Payment gateway integrations (Stripe, PayPal) and webhook configurations
- Inventory sync between ERPs and headless storefronts
- CDN caching, ISR (Incremental Static Regeneration), and performance optimization
- Order fulfillment integrations (ShipStation, custom warehouse APIs)
- Data migration from legacy platforms

Your job is to analyze support tickets, diagnose issues based on logs and documentation, and draft helpful responses for merchants experiencing headless migration issues.

Guidelines:
- Be professional, empathetic, and solution-oriented; merchants are often stressed during migrations
- Provide specific, actionable steps with code examples when helpful
- Reference the logs and documentation when relevant
- Understand that issues often stem from differences between hosted and headless architectures
- If you're uncertain, acknowledge it and ask for more information
- Format your responses clearly with headers and bullet points where appropriate

You must respond in the following JSON format:
{
    "diagnosis": "A clear explanation of the root cause (2-4 sentences). Use **bold** for emphasis. Reference specific log entries when applicable.",
    "confidence_score": 0.0 to 1.0 based on how certain you are,
    "recommended_action": "A complete draft reply to send to the customer. Be helpful and professional. Include specific steps to resolve the issue."
}`

func buildUserPrompt(st State) string {
	accountID := st.AccountID
	if accountID == "" {
		accountID = "Not found in ticket"
	}

	logsContext := "No logs found for this merchant."
	if len(st.LogEntries) > 0 {
		logsContext = strings.Join(st.LogEntries, "\n")
	}

	docsContext := "No relevant documentation found."
	if len(st.KBArticles) > 0 {
		docs := st.KBArticles
		if len(docs) > promptDocLimit {
			docs = docs[:promptDocLimit]
		}
		docsContext = strings.Join(docs, "\n\n---\n\n")
	}

	return fmt.Sprintf(`Analyze this support ticket and provide a diagnosis and recommended response.

## Original Ticket
%s

## Merchant ID
%s

## System Logs for this Merchant
%s

## Relevant Documentation
%s

Based on the above information, diagnose the issue and draft a helpful customer response.
Remember to respond ONLY with valid JSON in the specified format.`, st.TicketText, accountID, logsContext, docsContext)
}
