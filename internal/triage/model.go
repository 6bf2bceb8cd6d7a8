package triage

// State is the accumulated result of one pipeline invocation.
type State struct {
	TicketText        string   `json:"ticket_text"`
	AccountID         string   `json:"account_id,omitempty"`
	LogEntries        []string `json:"log_entries"`
	KBArticles        []string `json:"kb_articles"`
	Diagnosis         string   `json:"diagnosis"`
	Confidence        float64  `json:"confidence_score"`
	RecommendedAction string   `json:"recommended_action"`
	Trace             []string `json:"trace"`
}

// Update is the partial state a stage returns. Nil fields are left untouched
// by Merge; Trace is appended.
type Update struct {
	AccountID         *string
	LogEntries        []string
	KBArticles        []string
	Diagnosis         *string
	Confidence        *float64
	RecommendedAction *string
	Trace             []string
}

// NewState returns the initial state for ticketText.
func NewState(ticketText string) State {
	return State{
		TicketText: ticketText,
		LogEntries: []string{},
		KBArticles: []string{},
		Trace:      []string{},
	}
}

// Merge applies u to s. Every field is last-write-wins except Trace, which
// accumulates. An empty AccountID never clears a resolved one, and confidence
// is clamped to [0,1]. s is not modified.
func Merge(s State, u Update) State {
	if u.AccountID != nil && *u.AccountID != "" {
		s.AccountID = *u.AccountID
	}
	if u.LogEntries != nil {
		s.LogEntries = append([]string{}, u.LogEntries...)
	}
	if u.KBArticles != nil {
		s.KBArticles = append([]string{}, u.KBArticles...)
	}
	if u.Diagnosis != nil {
		s.Diagnosis = *u.Diagnosis
	}
	if u.Confidence != nil {
		s.Confidence = clampConfidence(*u.Confidence)
	}
	if u.RecommendedAction != nil {
		s.RecommendedAction = *u.RecommendedAction
	}

	trace := make([]string, 0, len(s.Trace)+len(u.Trace))
	trace = append(trace, s.Trace...)
	s.Trace = append(trace, u.Trace...)

	if s.LogEntries == nil {
		s.LogEntries = []string{}
	}
	if s.KBArticles == nil {
		s.KBArticles = []string{}
	}
	return s
}

func clampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func ptr[T any](v T) *T { return &v }
