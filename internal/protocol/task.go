// Package protocol holds the wire types exchanged between the report client,
// the orchestration API and the chat gateway.
package protocol

import "encoding/json"

// TaskState represents the state of a remote task
type TaskState string

const (
	TaskStateRunning    TaskState = "running"
	TaskStateCancelling TaskState = "cancelling"
	TaskStateCancelled  TaskState = "cancelled"
	TaskStateFailed     TaskState = "failed"
	TaskStateCompleted  TaskState = "completed"
)

// Terminal reports whether no further transitions can occur from s.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCancelled, TaskStateFailed, TaskStateCompleted:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known task states.
func (s TaskState) Valid() bool {
	return s == TaskStateRunning || s == TaskStateCancelling || s.Terminal()
}

// Mode selects the kind of report the remote computation produces.
type Mode string

const (
	ModeSummarize          Mode = "summarize"
	ModeExtract            Mode = "extract"
	ModeRecommend          Mode = "recommend"
	ModeRecommendWithChart Mode = "recommend_with_chart"
)

// DefaultMode is used when a start request does not name one.
const DefaultMode = ModeRecommendWithChart

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSummarize, ModeExtract, ModeRecommend, ModeRecommendWithChart:
		return true
	default:
		return false
	}
}

// StartRequest is the body of POST /orchestrate/run.
type StartRequest struct {
	Mode           Mode   `json:"mode"`
	Visualize      bool   `json:"visualize"`
	ProjectID      string `json:"projectId"`
	OrganizationID string `json:"organizationId,omitempty"`

	// Organization window, used by the recommend modes only.
	FromDate string `json:"fromDate,omitempty"`
	ToDate   string `json:"toDate,omitempty"`
	TopN     int    `json:"topN,omitempty"`
}

// StartResponse is returned once a task has been registered.
type StartResponse struct {
	TaskID string    `json:"taskId"`
	State  TaskState `json:"state"`
}

// CancelResponse is returned by POST /orchestrate/cancel/{id}.
type CancelResponse struct {
	Status  TaskState `json:"status"`
	Cleanup string    `json:"cleanup,omitempty"`
}

// Cleanup values reported alongside a cancelling status.
const (
	CleanupScheduled  = "scheduled"
	CleanupInProgress = "in_progress"
)

// StatusResponse is returned by GET /orchestrate/status/{id}. Result is kept
// raw so the poller can normalize chart series before decoding.
type StatusResponse struct {
	TaskID string          `json:"taskId"`
	State  TaskState       `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ReportResult is the payload of a completed task.
type ReportResult struct {
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
	PDFURL          string   `json:"pdfUrl"`
	Chart           *Chart   `json:"chart,omitempty"`
	Items           []string `json:"items,omitempty"`
}

// ChartType is the presentation hint for a chart series.
type ChartType string

const (
	ChartBar  ChartType = "bar"
	ChartLine ChartType = "line"
)

// Chart is a single labelled numeric series.
type Chart struct {
	Type   ChartType `json:"type"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// ErrorResponse is the body written for any non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ProjectReportRequest is the body of the synchronous report endpoints.
type ProjectReportRequest struct {
	ProjectID string `json:"projectId"`
	Visualize bool   `json:"visualize"`
}

// ChatbotRequest asks one ERP-scoped question without the streaming channel.
type ChatbotRequest struct {
	ProjectID string `json:"projectId"`
	Question  string `json:"question"`
}
