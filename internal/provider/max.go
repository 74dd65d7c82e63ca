package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"courier/internal/models"
)

// MaxAdapter sends through the MAX platform API. MAX issues refresh tokens,
// so it also implements Refresher.
type MaxAdapter struct {
	client  *http.Client
	baseURL string
}

func NewMaxAdapter(baseURL string, timeout time.Duration) *MaxAdapter {
	return &MaxAdapter{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (a *MaxAdapter) Messenger() models.MessengerType {
	return models.MessengerMax
}

type maxEnvelope struct {
	Success bool `json:"success"`
	Data    *struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *MaxAdapter) Send(ctx context.Context, token *models.Token, chatID string, msg *models.Message, idemKey string) Outcome {
	payload, err := json.Marshal(map[string]string{
		"chat_id":         chatID,
		"content":         msg.Payload,
		"format":          string(msg.PayloadType),
		"idempotency_key": idemKey,
	})
	if err != nil {
		return Permanent("max: encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages/send", bytes.NewReader(payload))
	if err != nil {
		return Permanent("max: build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("User-Agent", "courier/max")

	resp, err := a.client.Do(req)
	if err != nil {
		return Transient("max: request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Rejected("max: invalid access token")
	case resp.StatusCode == http.StatusTooManyRequests:
		return Transient("max: rate limit exceeded")
	case resp.StatusCode >= 500:
		return Transient("max: server error: %s", resp.Status)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Permanent("max: %s - %s", resp.Status, string(body))
	}

	var env maxEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Transient("max: decode response: %v", err)
	}
	if !env.Success {
		if env.Error != nil {
			return Permanent("max: %s: %s", env.Error.Code, env.Error.Message)
		}
		return Permanent("max: unknown api error")
	}
	if env.Data == nil {
		return Transient("max: no data in response")
	}
	return OK(env.Data.MessageID)
}

func (a *MaxAdapter) Refresh(ctx context.Context, token *models.Token) (string, string, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": token.RefreshToken})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "courier/max")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("max: refresh failed: %s", resp.Status)
	}

	var out struct {
		Success bool `json:"success"`
		Data    *struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	if !out.Success || out.Data == nil || out.Data.AccessToken == "" {
		return "", "", fmt.Errorf("max: refresh rejected")
	}
	return out.Data.AccessToken, out.Data.RefreshToken, nil
}
