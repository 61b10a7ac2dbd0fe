package session

import "time"

// Status is the verification state of a session.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// LogEntry is one line of a session's bounded activity log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	Level   string    `json:"level"`
}

// Session is the in-memory verification state for one POS transaction. It is
// only ever held by the Store; callers receive copies.
type Session struct {
	TransactionID string     `json:"transactionId"`
	Status        Status     `json:"status"`
	CustomerID    string     `json:"customerId,omitempty"`
	CustomerName  string     `json:"customerName,omitempty"`
	Age           *int       `json:"age,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	DeviceLinked  bool       `json:"deviceLinked"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	ActivityLog   []LogEntry `json:"activityLog"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
}

// Meta carries optional fields known at session creation.
type Meta struct {
	CustomerName string
}

// Result is a decision-engine outcome applied to a session.
type Result struct {
	Status       Status
	CustomerID   string
	CustomerName string
	Age          *int
	Reason       string
}
