package poller

import (
	"encoding/json"
	"fmt"

	"aidesk/internal/protocol"
)

// wireResult mirrors protocol.ReportResult but accepts any shape for chart values.
type wireResult struct {
	protocol.ReportResult
	Chart *struct {
		Type   protocol.ChartType `json:"type"`
		Labels []string           `json:"labels"`
		Values any                `json:"values"`
	} `json:"chart,omitempty"`
}

// DecodeResult decodes a completed task's result, flattening nested chart
// values into one series. Labels and values are not cross-checked.
func DecodeResult(raw json.RawMessage) (*protocol.ReportResult, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("completed task carried no result")
	}

	var wire wireResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	result := wire.ReportResult
	result.Chart = nil
	if wire.Chart != nil {
		result.Chart = &protocol.Chart{
			Type:   wire.Chart.Type,
			Labels: wire.Chart.Labels,
			Values: protocol.FlattenSeries(wire.Chart.Values),
		}
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	return &result, nil
}
