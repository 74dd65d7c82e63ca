package storage

import (
	"context"
	"time"

	"courier/internal/models"
)

// Storage is the durable ledger behind the dispatcher. Destination rows are
// the source of truth for eligibility; the work queue is only a wake-up hint.
type Storage interface {
	// Messages
	CreateMessage(ctx context.Context, msg *models.Message, dests []models.Destination) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, limit, offset int) ([]models.Message, error)

	// Destinations
	GetDestination(ctx context.Context, id string) (*models.Destination, error)
	GetDestinationsByMessage(ctx context.Context, messageID string) ([]models.Destination, error)
	// GetEligibleDestinations returns up to limit destinations that are due
	// for an attempt: pending/retry_scheduled rows whose next_eligible_at has
	// passed, plus in_flight rows whose lease expired (last_attempt older
	// than leaseTimeout). Oldest next_eligible_at first.
	GetEligibleDestinations(ctx context.Context, limit int, now time.Time, leaseTimeout time.Duration) ([]models.Destination, error)
	// ClaimDestination atomically transitions an eligible destination to
	// in_flight and stamps last_attempt. It returns false when another worker
	// already holds the lease or the row is no longer eligible; a no-op, not
	// an error. The conditional update is the only exclusion mechanism, so it
	// is safe across process instances.
	ClaimDestination(ctx context.Context, id string, now time.Time, leaseTimeout time.Duration) (bool, error)
	// FinalizeAttempt persists the destination's post-attempt state and the
	// corresponding attempt row in one transaction, so status and ledger
	// never diverge. The attempt number is allocated inside the transaction
	// (max existing + 1), keeping sequences gap-free per destination. The
	// write is fenced to the caller's lease: it only lands while the row is
	// still in_flight with last_attempt equal to d.LastAttemptAt, the stamp
	// the caller's claim set. When the fence loses (the lease expired and
	// another worker reclaimed the row) it returns (nil, nil) and writes
	// nothing, so a terminal destination never transitions again.
	FinalizeAttempt(ctx context.Context, d *models.Destination, reason, actor string) (*models.Attempt, error)
	// RequeueFailedDestinations re-arms a message's failed destinations for
	// an immediate retry cycle and returns how many were re-armed.
	RequeueFailedDestinations(ctx context.Context, messageID string, now time.Time) (int, error)

	// Attempts
	GetAttemptsByDestination(ctx context.Context, destinationID string) ([]models.Attempt, error)
	GetAttemptsByMessage(ctx context.Context, messageID string) ([]models.Attempt, error)

	// Tokens
	CreateToken(ctx context.Context, t *models.Token) error
	GetToken(ctx context.Context, id string) (*models.Token, error)
	// GetActiveToken resolves the latest active token for a (user, messenger)
	// pair. Historical rows may exist; only the newest active one is used.
	GetActiveToken(ctx context.Context, userID string, messenger models.MessengerType) (*models.Token, error)
	ListTokens(ctx context.Context, userID string) ([]models.Token, error)
	UpdateTokenStatus(ctx context.Context, id string, status models.TokenStatus) error
	UpdateTokenCredentials(ctx context.Context, id, accessToken, refreshToken string) error

	// Stats
	GetStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalMessages     int64            `json:"total_messages"`
	TotalDestinations int64            `json:"total_destinations"`
	SentCount         int64            `json:"sent_count"`
	FailedCount       int64            `json:"failed_count"`
	PendingCount      int64            `json:"pending_count"`
	InFlightCount     int64            `json:"in_flight_count"`
	SuccessRate       float64          `json:"success_rate"`
	ByMessenger       map[string]int64 `json:"by_messenger"`
}
