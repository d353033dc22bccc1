package protocol

import (
	"encoding/json"
	"fmt"
)

// Chat events carried over the persistent websocket connection.
const (
	EventAsk   = "chat:ask"
	EventChunk = "chat:chunk"
	EventDone  = "chat:done"
	EventError = "chat:error"
)

// RejectionSentence is streamed as a regular chunk when a question is out of scope.
const RejectionSentence = "Your request seems out of context, please check your sources and try again"

// Frame is one websocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AskPayload is sent by the client to open an exchange.
type AskPayload struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	Question  string `json:"question"`
}

// ChunkPayload carries one answer segment.
type ChunkPayload struct {
	Text string `json:"text"`
}

// ErrorPayload ends an exchange with a failure.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewFrame encodes payload as the data of an event frame. A nil payload
// produces a frame without data.
func NewFrame(event string, payload any) (Frame, error) {
	frame := Frame{Event: event}
	if payload == nil {
		return frame, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame.Data = data
	return frame, nil
}

// Decode unmarshals the frame data into out.
func (f Frame) Decode(out any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no data", f.Event)
	}
	if err := json.Unmarshal(f.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return nil
}
