package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"aidesk/internal/erp"
	"aidesk/internal/logging"
	"aidesk/internal/observability"
	"aidesk/internal/protocol"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// retrySuffix is appended to the prompt for the single retry after unparsable output.
const retrySuffix = "\n\nReturn JSON now:"

const defaultTitle = "AI Report"

// InvalidOutputError reports model output that could not be salvaged as JSON.
type InvalidOutputError struct {
	Raw string
	Err error
}

func (e *InvalidOutputError) Error() string {
	return fmt.Sprintf("INVALID_MODEL_OUTPUT: %v", e.Err)
}

func (e *InvalidOutputError) Unwrap() error {
	return e.Err
}

// Runner builds prompts, calls the completer and shapes its output.
type Runner struct {
	completer Completer
	logger    logging.Logger
}

// NewRunner returns a runner using completer.
func NewRunner(completer Completer, logger logging.Logger) *Runner {
	return &Runner{completer: completer, logger: logging.OrNop(logger)}
}

// Report runs mode over input, which is either a project or organization context.
func (r *Runner) Report(ctx context.Context, mode protocol.Mode, input any) (*protocol.ReportResult, error) {
	system, err := systemPrompt(mode)
	if err != nil {
		return nil, err
	}
	if pc, ok := input.(*erp.ProjectContext); ok {
		input = thinProject(mode, pc)
	}

	prompt, err := packPrompt(system, input, string(mode))
	if err != nil {
		return nil, err
	}

	obj, err := r.completeJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return toReport(mode, obj), nil
}

// completeJSON asks for a completion and salvages JSON from it, retrying once.
func (r *Runner) completeJSON(ctx context.Context, prompt string) (map[string]any, error) {
	ctx, span := observability.Tracer().Start(ctx, observability.SpanCompute)
	defer span.End()
	span.SetAttributes(attribute.Int("aidesk.prompt_chars", len(prompt)))

	raw, err := r.completer.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, err
	}
	obj, parseErr := ParseModelJSON(raw)
	if parseErr == nil {
		return obj, nil
	}
	r.logger.Warn("model output was not JSON, retrying once: %v", parseErr)

	raw, err = r.completer.Complete(ctx, prompt+retrySuffix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion retry failed")
		return nil, err
	}
	obj, parseErr = ParseModelJSON(raw)
	if parseErr != nil {
		invalid := &InvalidOutputError{Raw: raw, Err: parseErr}
		span.RecordError(invalid)
		span.SetStatus(codes.Error, "invalid model output")
		return nil, invalid
	}
	return obj, nil
}

func toReport(mode protocol.Mode, obj map[string]any) *protocol.ReportResult {
	result := &protocol.ReportResult{
		Title:           stringField(obj, "title"),
		Summary:         stringField(obj, "summary"),
		Recommendations: stringList(obj["recommendations"]),
	}
	if result.Title == "" {
		result.Title = defaultTitle
	}
	if result.Summary == "" {
		encoded, _ := json.Marshal(obj)
		result.Summary = string(encoded)
	}

	switch mode {
	case protocol.ModeRecommend:
		if len(result.Recommendations) == 0 {
			result.Recommendations = derivedRecommendations(obj)
		}
	case protocol.ModeExtract:
		for _, product := range objectList(obj["products"]) {
			if name := stringField(product, "productName"); name != "" {
				result.Items = append(result.Items, name)
			}
		}
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}

	if chart, ok := obj["chart"].(map[string]any); ok {
		chartType := protocol.ChartType(stringField(chart, "type"))
		if chartType != protocol.ChartLine {
			chartType = protocol.ChartBar
		}
		result.Chart = &protocol.Chart{
			Type:   chartType,
			Labels: stringList(chart["labels"]),
			Values: protocol.FlattenSeries(chart["values"]),
		}
	}
	return result
}

// derivedRecommendations phrases stock alerts, cost opportunities and risks as one-liners.
func derivedRecommendations(obj map[string]any) []string {
	var out []string
	for _, alert := range objectList(obj["stockAlerts"]) {
		line := fmt.Sprintf("Reorder %s units of %s",
			formatNumber(alert["recommendedOrderQty"]), stringField(alert, "productName"))
		if provider, ok := alert["suggestedProvider"].(map[string]any); ok {
			if name := stringField(provider, "providerName"); name != "" {
				line += " from " + name
			}
		}
		out = append(out, line)
	}
	for _, opportunity := range objectList(obj["costOpportunities"]) {
		if title := stringField(opportunity, "title"); title != "" {
			out = append(out, title)
		}
	}
	for _, risk := range objectList(obj["risks"]) {
		title := stringField(risk, "title")
		if title == "" {
			continue
		}
		if severity := stringField(risk, "severity"); severity != "" {
			title = fmt.Sprintf("%s (%s risk)", title, severity)
		}
		out = append(out, title)
	}
	return out
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch val := item.(type) {
		case string:
			if val = strings.TrimSpace(val); val != "" {
				out = append(out, val)
			}
		case float64, bool:
			out = append(out, fmt.Sprint(val))
		}
	}
	return out
}

func objectList(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func formatNumber(v any) string {
	f, ok := v.(float64)
	if !ok {
		return "?"
	}
	if f == math.Trunc(f) {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprintf("%.2f", f)
}
