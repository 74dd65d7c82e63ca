package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courier/internal/models"
)

func telegramFixture() (*models.Token, *models.Message) {
	token := &models.Token{AccessToken: "bot-token"}
	msg := &models.Message{PayloadType: models.PayloadPlain, Payload: "hello"}
	return token, msg
}

func TestTelegramSend_Delivered(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotReq telegramSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":     true,
			"result": map[string]interface{}{"message_id": 42},
		})
	}))
	defer srv.Close()

	a := NewTelegramAdapter(srv.URL, 5*time.Second)
	token, msg := telegramFixture()

	out := a.Send(context.Background(), token, "100", msg, "msg_1:dst_1")
	if out.Kind != Delivered {
		t.Fatalf("expected Delivered, got %s (%s)", out.Kind, out.Reason)
	}
	if out.ProviderMessageID != "42" {
		t.Fatalf("expected provider message id 42, got %q", out.ProviderMessageID)
	}
	if gotPath != "/botbot-token/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotReq.ChatID != "100" || gotReq.Text != "hello" {
		t.Fatalf("unexpected request %+v", gotReq)
	}
	if gotReq.ParseMode != "" {
		t.Fatalf("plain payload must not set parse_mode, got %q", gotReq.ParseMode)
	}
}

func TestTelegramSend_ParseMode(t *testing.T) {
	t.Parallel()

	var gotReq telegramSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	a := NewTelegramAdapter(srv.URL, 5*time.Second)
	token, msg := telegramFixture()
	msg.PayloadType = models.PayloadMarkdown

	a.Send(context.Background(), token, "100", msg, "k")
	if gotReq.ParseMode != "Markdown" {
		t.Fatalf("expected Markdown parse_mode, got %q", gotReq.ParseMode)
	}
}

func TestTelegramSend_Classification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		errorCode int
		want      OutcomeKind
	}{
		{"unauthorized", 401, CredentialRejected},
		{"rate limited", 429, TransientFailure},
		{"server error", 502, TransientFailure},
		{"bad request", 400, PermanentFailure},
		{"bot blocked", 403, PermanentFailure},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"ok":          false,
					"error_code":  tc.errorCode,
					"description": tc.name,
				})
			}))
			defer srv.Close()

			a := NewTelegramAdapter(srv.URL, 5*time.Second)
			token, msg := telegramFixture()

			out := a.Send(context.Background(), token, "100", msg, "k")
			if out.Kind != tc.want {
				t.Fatalf("error_code %d: expected %s, got %s (%s)", tc.errorCode, tc.want, out.Kind, out.Reason)
			}
		})
	}
}

func TestTelegramSend_ConnectionErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	a := NewTelegramAdapter(srv.URL, time.Second)
	token, msg := telegramFixture()

	out := a.Send(context.Background(), token, "100", msg, "k")
	if out.Kind != TransientFailure {
		t.Fatalf("expected TransientFailure on connection error, got %s", out.Kind)
	}
}
