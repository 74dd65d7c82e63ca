package models

import "time"

// Attempt is one append-only record of a single delivery try. Rows are never
// updated or deleted outside of cascade deletion of the parent message.
type Attempt struct {
	ID            string            `json:"id"`
	MessageID     string            `json:"message_id"`
	DestinationID string            `json:"destination_id"`
	AttemptNumber int               `json:"attempt_number"`
	Status        DestinationStatus `json:"status"`
	StatusReason  string            `json:"status_reason,omitempty"`
	RequestedBy   string            `json:"requested_by"`
	CreatedAt     time.Time         `json:"created_at"`
}
