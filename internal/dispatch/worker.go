package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"courier/internal/credentials"
	"courier/internal/models"
	"courier/internal/provider"
	"courier/internal/storage"
)

// Worker drives one destination through a single delivery attempt: lease,
// credential resolution, provider call, transition, durable finalize. It
// holds no lock beyond the destination's own in_flight marker.
type Worker struct {
	store        storage.Storage
	creds        *credentials.Store
	registry     *provider.Registry
	policy       Policy
	leaseTimeout time.Duration
	log          zerolog.Logger
}

func NewWorker(store storage.Storage, creds *credentials.Store, registry *provider.Registry, policy Policy, leaseTimeout time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		store:        store,
		creds:        creds,
		registry:     registry,
		policy:       policy,
		leaseTimeout: leaseTimeout,
		log:          log,
	}
}

func (w *Worker) Process(ctx context.Context, d models.Destination) {
	now := time.Now().UTC()

	claimed, err := w.store.ClaimDestination(ctx, d.ID, now, w.leaseTimeout)
	if err != nil {
		w.log.Error().Err(err).Str("destination_id", d.ID).Msg("lease acquisition failed")
		return
	}
	if !claimed {
		// Another worker owns it, or the row is no longer eligible. Not an
		// error: no attempt row, no outbound call.
		w.log.Debug().Str("destination_id", d.ID).Msg("skipping destination, lease not acquired")
		return
	}
	d.Status = models.DestinationInFlight
	d.LastAttemptAt = &now

	msg, err := w.store.GetMessage(ctx, d.MessageID)
	if err != nil || msg == nil {
		// Leave the row in_flight; the lease-timeout reclamation path retries
		// once storage answers again.
		w.log.Error().Err(err).Str("destination_id", d.ID).Msg("failed to load message for destination")
		return
	}

	outcome, actorOK := w.attempt(ctx, msg, &d)
	if !actorOK {
		return
	}

	refreshable := false
	if outcome.Kind == provider.CredentialRejected {
		refreshable = w.rejectedRefreshable(ctx, msg, &d)
	}

	tr := Next(&d, outcome, refreshable, w.policy, time.Now().UTC(), nil)
	d.Status = tr.Status
	d.RetryCount = tr.RetryCount
	d.NextEligibleAt = tr.NextEligibleAt
	if tr.SentAt != nil {
		d.SentAt = tr.SentAt
	}
	d.ErrorMessage = tr.ErrorMessage

	attempt, err := w.store.FinalizeAttempt(ctx, &d, tr.Reason, msg.RequestedBy)
	if err != nil {
		// The provider call may have gone out; the destination stays
		// in_flight and is reclaimed after the lease timeout. That can
		// duplicate a send: accepted at-least-once trade-off, dedup'd by
		// providers that honor the idempotency key.
		w.log.Error().Err(err).
			Str("destination_id", d.ID).
			Str("status", string(tr.Status)).
			Msg("failed to persist attempt outcome")
		sentry.CaptureException(fmt.Errorf("persist attempt outcome for %s: %w", d.ID, err))
		return
	}
	if attempt == nil {
		// Lease expired mid-attempt and another worker reclaimed the row; its
		// result stands and ours is discarded.
		w.log.Debug().Str("destination_id", d.ID).Msg("discarding attempt outcome, lease lost mid-attempt")
		return
	}

	switch d.Status {
	case models.DestinationSent:
		w.log.Info().
			Str("destination_id", d.ID).
			Str("messenger", string(d.Messenger)).
			Int("attempt", attempt.AttemptNumber).
			Msg("destination delivered")
	case models.DestinationRetryScheduled:
		w.log.Info().
			Str("destination_id", d.ID).
			Str("messenger", string(d.Messenger)).
			Int("retry_count", d.RetryCount).
			Time("next_eligible_at", *d.NextEligibleAt).
			Str("reason", tr.Reason).
			Msg("destination scheduled for retry")
	case models.DestinationFailed:
		w.log.Warn().
			Str("destination_id", d.ID).
			Str("messenger", string(d.Messenger)).
			Int("retry_count", d.RetryCount).
			Str("reason", tr.Reason).
			Msg("destination permanently failed")
	}
}

// attempt resolves credentials and performs at most one outbound call. The
// bool result is false only for infrastructure errors where the destination
// must stay in_flight with no attempt recorded.
func (w *Worker) attempt(ctx context.Context, msg *models.Message, d *models.Destination) (provider.Outcome, bool) {
	token, err := w.creds.Resolve(ctx, msg.RequestedBy, d.Messenger)
	switch {
	case errors.Is(err, credentials.ErrNoCredential):
		return provider.Permanent("no %s credential for user %s", d.Messenger, msg.RequestedBy), true
	case errors.Is(err, credentials.ErrCredentialExpired):
		return provider.Permanent("%s credential expired for user %s", d.Messenger, msg.RequestedBy), true
	case err != nil:
		w.log.Error().Err(err).Str("destination_id", d.ID).Msg("credential resolution failed")
		return provider.Outcome{}, false
	}

	adapter, ok := w.registry.Get(d.Messenger)
	if !ok {
		return provider.Permanent("no adapter registered for messenger %s", d.Messenger), true
	}

	out := adapter.Send(ctx, token, d.ChatID, msg, d.IdempotencyKey())
	if out.Kind == provider.CredentialRejected {
		if err := w.creds.Invalidate(ctx, token.ID, models.TokenExpired, out.Reason); err != nil {
			w.log.Error().Err(err).Str("token_id", token.ID).Msg("failed to invalidate rejected token")
		}
	}
	return out, true
}

// rejectedRefreshable checks whether a rejected credential still has a refresh
// path, which decides retry_scheduled versus failed.
func (w *Worker) rejectedRefreshable(ctx context.Context, msg *models.Message, d *models.Destination) bool {
	tokens, err := w.store.ListTokens(ctx, msg.RequestedBy)
	if err != nil {
		return false
	}
	for i := range tokens {
		if tokens[i].Messenger == d.Messenger {
			return w.creds.Refreshable(&tokens[i])
		}
	}
	return false
}
