package models

import "time"

type DestinationStatus string

const (
	DestinationPending        DestinationStatus = "pending"
	DestinationInFlight       DestinationStatus = "in_flight"
	DestinationSent           DestinationStatus = "sent"
	DestinationRetryScheduled DestinationStatus = "retry_scheduled"
	DestinationFailed         DestinationStatus = "failed"
)

// Terminal reports whether a destination in this status never transitions again.
func (s DestinationStatus) Terminal() bool {
	return s == DestinationSent || s == DestinationFailed
}

// Destination is one delivery target for a message. A message owns 1..N
// destinations created atomically with it. A destination row is mutated
// exclusively by the worker holding its in_flight lease.
type Destination struct {
	ID             string            `json:"id"`
	MessageID      string            `json:"message_id"`
	Messenger      MessengerType     `json:"messenger_type"`
	ChatID         string            `json:"chat_id"`
	Status         DestinationStatus `json:"status"`
	RetryCount     int               `json:"retry_count"`
	LastAttemptAt  *time.Time        `json:"last_attempt_at,omitempty"`
	NextEligibleAt *time.Time        `json:"next_eligible_at,omitempty"`
	SentAt         *time.Time        `json:"sent_at,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// IdempotencyKey identifies one logical delivery to providers that support
// deduplication, so a reclaimed lease that re-sends can be collapsed remotely.
func (d *Destination) IdempotencyKey() string {
	return d.MessageID + ":" + d.ID
}
