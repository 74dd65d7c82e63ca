package models

import (
	"strings"
	"testing"
)

func TestParseMessengerType(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"vk", "telegram", "max"} {
		got, err := ParseMessengerType(s)
		if err != nil {
			t.Errorf("ParseMessengerType(%q): %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseMessengerType(%q) = %q", s, got)
		}
	}

	for _, s := range []string{"", "icq", "VK", "Telegram"} {
		if _, err := ParseMessengerType(s); err == nil {
			t.Errorf("ParseMessengerType(%q): expected error", s)
		}
	}
}

func TestNewID(t *testing.T) {
	t.Parallel()

	a := NewID("msg")
	b := NewID("msg")

	if !strings.HasPrefix(a, "msg_") {
		t.Fatalf("NewID must carry the prefix, got %q", a)
	}
	if a == b {
		t.Fatal("consecutive IDs must differ")
	}
}

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()

	d := Destination{ID: "dst_1", MessageID: "msg_1"}
	if got := d.IdempotencyKey(); got != "msg_1:dst_1" {
		t.Fatalf("IdempotencyKey = %q", got)
	}
}

func TestDestinationTerminal(t *testing.T) {
	t.Parallel()

	cases := map[DestinationStatus]bool{
		DestinationPending:        false,
		DestinationInFlight:       false,
		DestinationRetryScheduled: false,
		DestinationSent:           true,
		DestinationFailed:         true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
