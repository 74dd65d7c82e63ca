package models

import "time"

type PayloadType string

const (
	PayloadPlain    PayloadType = "plain"
	PayloadMarkdown PayloadType = "markdown"
	PayloadHTML     PayloadType = "html"
)

// Message is the immutable payload submitted once through the API. It is
// referenced by its destinations and never mutated after creation.
type Message struct {
	ID          string      `json:"id"`
	PayloadType PayloadType `json:"payload_type"`
	Payload     string      `json:"payload"`
	RequestedBy string      `json:"requested_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
