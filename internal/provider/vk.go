package provider

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"courier/internal/models"
)

// VK API error codes that resolve themselves over time.
const (
	vkErrUnknown      = 1
	vkErrAuthFailed   = 5
	vkErrTooManyReqs  = 6
	vkErrFloodControl = 9
	vkErrInternal     = 10
)

type VKAdapter struct {
	client     *http.Client
	baseURL    string
	apiVersion string
}

func NewVKAdapter(baseURL, apiVersion string, timeout time.Duration) *VKAdapter {
	return &VKAdapter{
		client:     &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiVersion: apiVersion,
	}
}

func (a *VKAdapter) Messenger() models.MessengerType {
	return models.MessengerVK
}

type vkEnvelope struct {
	Response *int64 `json:"response"`
	Error    *struct {
		ErrorCode int    `json:"error_code"`
		ErrorMsg  string `json:"error_msg"`
	} `json:"error"`
}

func (a *VKAdapter) Send(ctx context.Context, token *models.Token, chatID string, msg *models.Message, idemKey string) Outcome {
	if _, err := strconv.ParseInt(chatID, 10, 64); err != nil {
		return Permanent("vk: invalid peer_id %q: expected integer", chatID)
	}

	q := url.Values{}
	q.Set("access_token", token.AccessToken)
	q.Set("v", a.apiVersion)
	q.Set("peer_id", chatID)
	q.Set("message", msg.Payload)
	// random_id is VK's dedup key; deriving it from the idempotency key makes
	// a re-send after lease reclamation collapse server-side.
	q.Set("random_id", strconv.FormatInt(vkRandomID(idemKey), 10))

	reqURL := a.baseURL + "/method/messages.send?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Permanent("vk: build request: %v", err)
	}
	req.Header.Set("User-Agent", "courier/vk")

	resp, err := a.client.Do(req)
	if err != nil {
		return Transient("vk: request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Transient("vk: server error: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return Permanent("vk: unexpected status: %s", resp.Status)
	}

	var env vkEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Transient("vk: decode response: %v", err)
	}

	if env.Error != nil {
		switch env.Error.ErrorCode {
		case vkErrAuthFailed:
			return Rejected("vk: auth failed: %s", env.Error.ErrorMsg)
		case vkErrUnknown, vkErrTooManyReqs, vkErrFloodControl, vkErrInternal:
			return Transient("vk: error %d: %s", env.Error.ErrorCode, env.Error.ErrorMsg)
		default:
			return Permanent("vk: error %d: %s", env.Error.ErrorCode, env.Error.ErrorMsg)
		}
	}

	if env.Response == nil {
		return Transient("vk: empty response body")
	}
	return OK(strconv.FormatInt(*env.Response, 10))
}

func vkRandomID(idemKey string) int64 {
	h := fnv.New64a()
	h.Write([]byte(idemKey))
	// VK expects a positive int32-range value.
	return int64(h.Sum64() & 0x7fffffff)
}
