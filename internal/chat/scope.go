package chat

import (
	"fmt"
	"regexp"
	"strings"
)

// ScopeClassifier decides whether a question belongs to the domain the assistant answers.
type ScopeClassifier interface {
	InScope(question string) bool
}

// DefaultScopeKeywords are regexp fragments matched against the lowercased question.
var DefaultScopeKeywords = []string{
	"inventory", "stock", "provider", "supplier", "purchase", "order",
	"fulfillment", "quality", "delivery", "lead time", "sales", "revenue",
	"cost", "risk", `po\b`,
}

// KeywordClassifier accepts any question containing one of its keywords.
type KeywordClassifier struct {
	pattern *regexp.Regexp
}

// NewKeywordClassifier compiles keywords into a single alternation.
func NewKeywordClassifier(keywords []string) (*KeywordClassifier, error) {
	if len(keywords) == 0 {
		keywords = DefaultScopeKeywords
	}
	pattern, err := regexp.Compile(strings.Join(keywords, "|"))
	if err != nil {
		return nil, fmt.Errorf("compile scope keywords: %w", err)
	}
	return &KeywordClassifier{pattern: pattern}, nil
}

// InScope implements ScopeClassifier. A blank question is never in scope.
func (c *KeywordClassifier) InScope(question string) bool {
	if strings.TrimSpace(question) == "" {
		return false
	}
	return c.pattern.MatchString(strings.ToLower(question))
}
