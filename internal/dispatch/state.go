package dispatch

import (
	"fmt"
	"math/rand"
	"time"

	"courier/internal/models"
	"courier/internal/provider"
)

// Transition is the computed post-attempt state for a leased destination.
// Applying it plus writing the attempt row is the caller's job; computing it
// has no side effects.
type Transition struct {
	Status         models.DestinationStatus
	RetryCount     int
	NextEligibleAt *time.Time
	SentAt         *time.Time
	ErrorMessage   string
	Reason         string
}

// Next maps an adapter outcome onto the destination state machine.
//
// A rejected credential counts as transient when a refresh path exists (the
// next attempt may succeed with a refreshed token) and as permanent when it
// does not.
func Next(d *models.Destination, out provider.Outcome, refreshable bool, p Policy, now time.Time, rng *rand.Rand) Transition {
	switch out.Kind {
	case provider.Delivered:
		sentAt := now
		reason := "delivered"
		if out.ProviderMessageID != "" {
			reason = fmt.Sprintf("delivered, provider message id %s", out.ProviderMessageID)
		}
		return Transition{
			Status:     models.DestinationSent,
			RetryCount: d.RetryCount,
			SentAt:     &sentAt,
			Reason:     reason,
		}

	case provider.CredentialRejected:
		if !refreshable {
			return permanentFailure(d, out.Reason)
		}
		return transientFailure(d, out.Reason, p, now, rng)

	case provider.TransientFailure:
		return transientFailure(d, out.Reason, p, now, rng)

	default:
		return permanentFailure(d, out.Reason)
	}
}

func transientFailure(d *models.Destination, reason string, p Policy, now time.Time, rng *rand.Rand) Transition {
	retries := d.RetryCount + 1
	if retries >= p.MaxRetries {
		t := permanentFailure(d, fmt.Sprintf("retries exhausted after %d attempts: %s", retries, reason))
		t.RetryCount = retries
		return t
	}

	next := now.Add(p.Delay(retries, rng))
	return Transition{
		Status:         models.DestinationRetryScheduled,
		RetryCount:     retries,
		NextEligibleAt: &next,
		ErrorMessage:   reason,
		Reason:         reason,
	}
}

func permanentFailure(d *models.Destination, reason string) Transition {
	return Transition{
		Status:       models.DestinationFailed,
		RetryCount:   d.RetryCount,
		ErrorMessage: reason,
		Reason:       reason,
	}
}
