// internal/model/session.go
package model

import "time"

// SessionState represents the lifecycle state of a serial session
type SessionState string

const (
	SessionStateClosed        SessionState = "closed"
	SessionStateOpening       SessionState = "opening"
	SessionStateOpen          SessionState = "open"
	SessionStateReconfiguring SessionState = "reconfiguring"
	SessionStateClosing       SessionState = "closing"
	SessionStateFaulted       SessionState = "faulted"
)

// IsTerminal reports whether no further operation can succeed in this state
func (s SessionState) IsTerminal() bool {
	return s == SessionStateClosed || s == SessionStateFaulted
}

// SubscriberStatus is a point-in-time view of one subscriber
type SubscriberStatus struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Queued  int    `json:"queued"`
	Dropped uint64 `json:"dropped"`
}

// AutoSendStatus describes the periodic sender of a session
type AutoSendStatus struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
	Fired    uint64        `json:"fired"`
	Skipped  uint64        `json:"skipped"`
	Failed   uint64        `json:"failed"`
}

// TransferState represents the lifecycle of a chunked file transfer
type TransferState string

const (
	TransferStateRunning   TransferState = "running"
	TransferStateCompleted TransferState = "completed"
	TransferStateCancelled TransferState = "cancelled"
	TransferStateFailed    TransferState = "failed"
)

// TransferProgress is a point-in-time view of a file transfer
type TransferProgress struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	BytesSent  int64         `json:"bytes_sent"`
	TotalBytes int64         `json:"total_bytes"`
	State      TransferState `json:"state"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
}

// Percent returns completion in the range 0-100, or -1 when the total is unknown
func (p TransferProgress) Percent() float64 {
	if p.TotalBytes <= 0 {
		return -1
	}
	return float64(p.BytesSent) * 100 / float64(p.TotalBytes)
}

// SessionStatus is the status snapshot returned for a session
type SessionStatus struct {
	ID            string             `json:"id"`
	Config        PortConfig         `json:"config"`
	State         SessionState       `json:"state"`
	RxMode        string             `json:"rx_mode"`
	BytesSent     uint64             `json:"bytes_sent"`
	BytesReceived uint64             `json:"bytes_received"`
	CreatedAt     time.Time          `json:"created_at"`
	Fault         string             `json:"fault,omitempty"`
	Subscribers   []SubscriberStatus `json:"subscribers"`
	AutoSend      AutoSendStatus     `json:"auto_send"`
	Transfers     []TransferProgress `json:"transfers"`
}
