package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"courier/internal/models"
)

// TelegramAdapter sends through the Telegram Bot API. Bot tokens have no
// refresh path, so a rejected credential is terminal for the token.
type TelegramAdapter struct {
	client  *http.Client
	baseURL string
}

func NewTelegramAdapter(baseURL string, timeout time.Duration) *TelegramAdapter {
	return &TelegramAdapter{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (a *TelegramAdapter) Messenger() models.MessengerType {
	return models.MessengerTelegram
}

type telegramSendRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (a *TelegramAdapter) Send(ctx context.Context, token *models.Token, chatID string, msg *models.Message, idemKey string) Outcome {
	body := telegramSendRequest{
		ChatID:    chatID,
		Text:      msg.Payload,
		ParseMode: telegramParseMode(msg.PayloadType),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Permanent("telegram: encode request: %v", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", a.baseURL, token.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Permanent("telegram: build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "courier/telegram")

	resp, err := a.client.Do(req)
	if err != nil {
		return Transient("telegram: request failed: %v", err)
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Transient("telegram: decode response: %v", err)
	}

	if tr.OK {
		return OK(fmt.Sprintf("%d", tr.Result.MessageID))
	}

	switch {
	case tr.ErrorCode == http.StatusUnauthorized:
		return Rejected("telegram: unauthorized: %s", tr.Description)
	case tr.ErrorCode == http.StatusTooManyRequests:
		return Transient("telegram: rate limited, retry after %ds", tr.Parameters.RetryAfter)
	case tr.ErrorCode >= 500:
		return Transient("telegram: server error %d: %s", tr.ErrorCode, tr.Description)
	default:
		// 400 bad chat id, 403 bot blocked by user, anything else we cannot
		// fix by retrying with the same request.
		return Permanent("telegram: error %d: %s", tr.ErrorCode, tr.Description)
	}
}

func telegramParseMode(t models.PayloadType) string {
	switch t {
	case models.PayloadMarkdown:
		return "Markdown"
	case models.PayloadHTML:
		return "HTML"
	default:
		return ""
	}
}
