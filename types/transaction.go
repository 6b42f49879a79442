package types

import (
	"time"
)

// Transaction is the primary aggregate of the switch: one row per funds
// transfer, mutated only under a row lock.
type Transaction struct {
	ID              int64
	ReferenceNumber string
	SessionID       string // assigned on first GIP dispatch; empty until then

	SourceBankCode string
	SourceAccount  string
	SourceName     string

	DestBankCode string
	DestAccount  string
	DestName     string

	Amount    string // decimal string, 2 places, e.g. "100.00"
	Narration string

	InstitutionID     string
	CredentialID      string
	ClientCallbackURL string

	Status             TransactionStatus
	FTDActionCode      string
	FTCActionCode      string
	ReversalActionCode string
	StatusMessage      string

	TSQAttempts      int
	TSQNextAttemptAt *time.Time
	ReversalAttempts int

	FTDDeadline *time.Time
	FTCDeadline *time.Time
	TxnDeadline *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GipEvent is an append-only audit row: one per outbound request or inbound
// callback.
type GipEvent struct {
	ID            int64
	TransactionID int64
	EventSeq      int64
	Kind          GipEventKind
	SessionID     string
	TrackingNumber string
	RawPayload    string
	ActionCode    string
	Outcome       string
	CreatedAt     time.Time
}

// CallbackStatus is the processing lifecycle of an inbound GipCallback row.
type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "PENDING"
	CallbackProcessed CallbackStatus = "PROCESSED"
	CallbackIgnored   CallbackStatus = "IGNORED"
	CallbackError     CallbackStatus = "ERROR"
)

// GipCallback is one row per inbound GIP callback, queued for the Callback
// Processor.
type GipCallback struct {
	ID             int64
	SessionID      string
	FunctionCode   string
	TrackingNumber string
	ActionCode     string
	RawPayload     string
	ReceivedAt     time.Time
	Status         CallbackStatus
	ProcessingErr  string
}

// ClientCallbackStatus is the delivery lifecycle of an outbound notification
// to an institution's webhook.
type ClientCallbackStatus string

const (
	ClientCallbackPending   ClientCallbackStatus = "PENDING"
	ClientCallbackDelivered ClientCallbackStatus = "DELIVERED"
	ClientCallbackFailed    ClientCallbackStatus = "FAILED"
)

// ClientCallback is one row per terminal-state notification queued for
// delivery to an institution's webhook.
type ClientCallback struct {
	ID            int64
	TransactionID int64
	URL           string
	Payload       string // JSON-encoded ClientNotification
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	Status        ClientCallbackStatus
	LastHTTPCode  int
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ClientNotification is the payload delivered to an institution's webhook,
// per spec §6.
type ClientNotification struct {
	Status          string `json:"status"`
	TransactionID   int64  `json:"transactionId"`
	ReferenceNumber string `json:"referenceNumber"`
	SessionID       string `json:"sessionId"`
	ActionCode      string `json:"actionCode"`
	Amount          string `json:"amount"`
	Message         string `json:"message"`
	Reason          string `json:"reason,omitempty"`
}

// AuditSeverity tags an audit_log row for operator triage.
type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "info"
	AuditWarn     AuditSeverity = "warn"
	AuditCritical AuditSeverity = "critical"
)

// AuditLogEntry is a manual-intervention-class record (spec §7): repeated
// reversal failures, TSQ exhaustion, or any other condition that leaves a
// transaction in a non-terminal state requiring operator attention.
type AuditLogEntry struct {
	ID            int64
	TransactionID int64
	Severity      AuditSeverity
	Message       string
	CreatedAt     time.Time
}
