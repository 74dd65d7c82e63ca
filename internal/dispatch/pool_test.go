package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"courier/internal/config"
	"courier/internal/models"
	"courier/internal/provider"
)

func TestPool_SweepDeliversEligibleWork(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, &stubAdapter{
		messenger: models.MessengerTelegram,
		outcomes:  []provider.Outcome{provider.OK("tg-pool")},
	})
	f.seedToken(t, models.MessengerTelegram, "")

	var destIDs []string
	for i := 0; i < 3; i++ {
		_, dest := f.seedMessage(t, models.MessengerTelegram)
		destIDs = append(destIDs, dest.ID)
	}

	cfg := config.DispatchConfig{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		BatchLimit:   10,
		LeaseTimeout: 5 * time.Minute,
	}
	pool := NewPool(cfg, f.store, f.worker, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	pool.Wake()

	deadline := time.Now().Add(5 * time.Second)
	for {
		allSent := true
		for _, id := range destIDs {
			d, err := f.store.GetDestination(ctx, id)
			if err != nil {
				t.Fatalf("GetDestination: %v", err)
			}
			if d.Status != models.DestinationSent {
				allSent = false
			}
		}
		if allSent {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("destinations were not delivered before the deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}

	pool.Stop()

	if f.adapter.callCount() != len(destIDs) {
		t.Fatalf("expected %d provider calls, got %d", len(destIDs), f.adapter.callCount())
	}
}
