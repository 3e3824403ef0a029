// internal/session/event.go
package session

import (
	"time"
	"unicode/utf8"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/model"
)

// EventKind tags what an Event carries
type EventKind string

const (
	EventRx          EventKind = "rx"
	EventTx          EventKind = "tx"
	EventState       EventKind = "state"
	EventTickSkipped EventKind = "tick_skipped"
	EventTransfer    EventKind = "transfer"
)

// Event is one unit delivered to subscribers. It is shared by every
// subscriber and must not be modified after publication.
type Event struct {
	Seq       uint64                  `json:"seq"`
	Kind      EventKind               `json:"type"`
	SessionID string                  `json:"session_id"`
	Timestamp time.Time               `json:"timestamp"`
	Data      []byte                  `json:"-"`
	Hex       string                  `json:"hex,omitempty"`
	Text      *string                 `json:"text,omitempty"`
	Frame     *codec.Frame            `json:"frame,omitempty"`
	Err       error                   `json:"-"`
	Error     string                  `json:"error,omitempty"`
	State     model.SessionState      `json:"state,omitempty"`
	Transfer  *model.TransferProgress `json:"transfer,omitempty"`
	Skipped   uint64                  `json:"skipped,omitempty"`
}

// Bytes returns Data as a list of integers, the form viewers expect
func (e *Event) Bytes() []int {
	out := make([]int, len(e.Data))
	for i, b := range e.Data {
		out[i] = int(b)
	}
	return out
}

func newDataEvent(kind EventKind, sessionID string, data []byte, frame *codec.Frame, err error) *Event {
	ev := &Event{
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
		Hex:       codec.FormatHex(data),
		Frame:     frame,
		Err:       err,
	}
	if utf8.Valid(data) {
		text := string(data)
		ev.Text = &text
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func newStateEvent(sessionID string, state model.SessionState, cause error) *Event {
	ev := &Event{
		Kind:      EventState,
		SessionID: sessionID,
		Timestamp: time.Now(),
		State:     state,
		Err:       cause,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return ev
}
