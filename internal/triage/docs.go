package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// DocumentStore returns the knowledge-base articles that contain term as a
// case-insensitive substring.
type DocumentStore interface {
	Search(ctx context.Context, term string) ([]string, error)
}

// DefaultSearchTerm is used when no topic rule fires.
const DefaultSearchTerm = "API"

type topicRule struct {
	triggers []string // lower-case
	term     string
}

var topicRules = []topicRule{
	{[]string{"403", "api key"}, "API Key"},
	{[]string{"429", "rate limit"}, "Rate Limit"},
	{[]string{"500", "database"}, "Database"},
	{[]string{"ssl", "certificate"}, "SSL"},
	{[]string{"json", "invalid"}, "JSON"},
	{[]string{"migration", "v2"}, "Migration"},
	{[]string{"webhook"}, "Webhook"},
}

type docRetriever struct {
	docs   DocumentStore
	logger log.Logger
}

func (r *docRetriever) retrieve(ctx context.Context, ticketText string, logLines []string) Update {
	terms := searchTerms(ticketText, logLines)
	trace := []string{"Searching docs for: " + strings.Join(terms, ", ")}

	seen := make(map[string]bool)
	articles := []string{}
	for _, term := range terms {
		found, err := r.docs.Search(ctx, term)
		if err != nil {
			r.logger.Error(ctx, err, "document search failed", "term", term)
			continue
		}
		for _, a := range found {
			if seen[a] {
				continue
			}
			seen[a] = true
			articles = append(articles, a)
		}
	}

	if len(articles) > 0 {
		trace = append(trace, fmt.Sprintf("Found %d relevant documentation articles", len(articles)))
	} else {
		trace = append(trace, "No matching documentation found")
	}

	return Update{KBArticles: articles, Trace: trace}
}

// searchTerms derives the ordered topic labels for the ticket text and its
// log lines.
func searchTerms(ticketText string, logLines []string) []string {
	corpus := strings.ToLower(ticketText + " " + strings.Join(logLines, " "))

	var terms []string
	for _, rule := range topicRules {
		for _, trig := range rule.triggers {
			if strings.Contains(corpus, trig) {
				terms = append(terms, rule.term)
				break
			}
		}
	}
	if len(terms) == 0 {
		terms = []string{DefaultSearchTerm}
	}
	return terms
}
