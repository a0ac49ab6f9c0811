package domain

import "time"

// Actions recorded for the credential lifecycle.
const (
	ActionTokenCreated  = "action_token.created"
	ActionTokenConsumed = "action_token.consumed"
	ActionCodeIssued    = "mfa.code.issued"
	ActionCodeVerified  = "mfa.code.verified"
	ActionCodeFailed    = "mfa.code.failed"
)

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
