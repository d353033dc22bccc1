// Package report maps free-text report requests onto task modes.
package report

import (
	"strings"

	"aidesk/internal/protocol"
)

var (
	visualizeKeywords = []string{"trend", "projection", "growth", "forecast", "sales", "chart", "graph"}
	recommendKeywords = []string{"recommend", "next action", "supplier", "provider", "fulfillment"}
	extractKeywords   = []string{"extract", "normalize", "dataset", "data model"}
)

// Intent is the inferred shape of a report request.
type Intent struct {
	Mode      protocol.Mode
	Visualize bool
}

// InferIntent classifies prompt by keyword. Recommendation keywords win over
// extraction ones; a prompt that only asks for data trends becomes a
// recommendation with a chart, and everything else is summarized.
func InferIntent(prompt string) Intent {
	lower := strings.ToLower(prompt)
	visualize := containsAny(lower, visualizeKeywords)

	switch {
	case containsAny(lower, recommendKeywords), visualize && !containsAny(lower, extractKeywords):
		if visualize {
			return Intent{Mode: protocol.ModeRecommendWithChart, Visualize: true}
		}
		return Intent{Mode: protocol.ModeRecommend}
	case containsAny(lower, extractKeywords):
		return Intent{Mode: protocol.ModeExtract, Visualize: visualize}
	default:
		return Intent{Mode: protocol.ModeSummarize}
	}
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
