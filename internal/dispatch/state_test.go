package dispatch

import (
	"strings"
	"testing"
	"time"

	"courier/internal/models"
	"courier/internal/provider"
)

func testDestination(retryCount int) *models.Destination {
	now := time.Now().UTC()
	return &models.Destination{
		ID:         "dst_test",
		MessageID:  "msg_test",
		Messenger:  models.MessengerTelegram,
		ChatID:     "42",
		Status:     models.DestinationInFlight,
		RetryCount: retryCount,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestNext_Delivered(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	tr := Next(testDestination(2), provider.OK("remote-1"), false, DefaultPolicy(), now, nil)

	if tr.Status != models.DestinationSent {
		t.Fatalf("expected sent, got %s", tr.Status)
	}
	if tr.SentAt == nil || !tr.SentAt.Equal(now) {
		t.Fatalf("expected sent_at %v, got %v", now, tr.SentAt)
	}
	if tr.RetryCount != 2 {
		t.Fatalf("delivery must not change retry_count, got %d", tr.RetryCount)
	}
	if !strings.Contains(tr.Reason, "remote-1") {
		t.Fatalf("expected provider message id in reason, got %q", tr.Reason)
	}
}

func TestNext_TransientSchedulesRetry(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	p := DefaultPolicy()
	tr := Next(testDestination(0), provider.Transient("timeout"), false, p, now, nil)

	if tr.Status != models.DestinationRetryScheduled {
		t.Fatalf("expected retry_scheduled, got %s", tr.Status)
	}
	if tr.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", tr.RetryCount)
	}
	if tr.NextEligibleAt == nil {
		t.Fatal("expected next_eligible_at to be set")
	}
	if tr.NextEligibleAt.Before(now.Add(p.BackoffBase)) {
		t.Fatalf("next_eligible_at %v earlier than backoff base allows", tr.NextEligibleAt)
	}
	if tr.ErrorMessage != "timeout" {
		t.Fatalf("expected error message, got %q", tr.ErrorMessage)
	}
}

func TestNext_TransientExhaustsRetries(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	tr := Next(testDestination(p.MaxRetries-1), provider.Transient("timeout"), false, p, time.Now().UTC(), nil)

	if tr.Status != models.DestinationFailed {
		t.Fatalf("expected failed after exhausting retries, got %s", tr.Status)
	}
	if tr.RetryCount != p.MaxRetries {
		t.Fatalf("expected retry_count %d, got %d", p.MaxRetries, tr.RetryCount)
	}
	if tr.NextEligibleAt != nil {
		t.Fatal("failed destination must not have next_eligible_at")
	}
	if !strings.Contains(tr.ErrorMessage, "retries exhausted") {
		t.Fatalf("expected exhaustion reason, got %q", tr.ErrorMessage)
	}
}

func TestNext_PermanentFails(t *testing.T) {
	t.Parallel()

	tr := Next(testDestination(1), provider.Permanent("invalid recipient"), false, DefaultPolicy(), time.Now().UTC(), nil)

	if tr.Status != models.DestinationFailed {
		t.Fatalf("expected failed, got %s", tr.Status)
	}
	if tr.RetryCount != 1 {
		t.Fatalf("permanent failure must not change retry_count, got %d", tr.RetryCount)
	}
	if tr.ErrorMessage != "invalid recipient" {
		t.Fatalf("expected error message, got %q", tr.ErrorMessage)
	}
}

func TestNext_CredentialRejected(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	p := DefaultPolicy()

	// With a refresh path the next attempt may succeed.
	tr := Next(testDestination(0), provider.Rejected("401"), true, p, now, nil)
	if tr.Status != models.DestinationRetryScheduled {
		t.Fatalf("refreshable rejection: expected retry_scheduled, got %s", tr.Status)
	}

	// Without one the destination is dead.
	tr = Next(testDestination(0), provider.Rejected("401"), false, p, now, nil)
	if tr.Status != models.DestinationFailed {
		t.Fatalf("non-refreshable rejection: expected failed, got %s", tr.Status)
	}
}
