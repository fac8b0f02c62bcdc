package domain

import "time"

// AuthAuditEvent is a single auth transition recorded in the audit trail.
type AuthAuditEvent struct {
	ID         string          `json:"id" bson:"event_id"`
	UserID     string          `json:"user_id,omitempty" bson:"user_id,omitempty"`
	Email      string          `json:"email,omitempty" bson:"email,omitempty"`
	Event      AuthChangeEvent `json:"event" bson:"event"`
	SessionID  string          `json:"session_id,omitempty" bson:"session_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at" bson:"occurred_at"`
}
