package provider

import (
	"context"
	"fmt"

	"courier/internal/models"
)

// OutcomeKind is the four-way classification every adapter must produce for
// every attempt. The dispatcher never sees raw provider errors.
type OutcomeKind string

const (
	Delivered          OutcomeKind = "delivered"
	TransientFailure   OutcomeKind = "transient_failure"
	PermanentFailure   OutcomeKind = "permanent_failure"
	CredentialRejected OutcomeKind = "credential_rejected"
)

type Outcome struct {
	Kind              OutcomeKind
	ProviderMessageID string
	Reason            string
}

func OK(providerMessageID string) Outcome {
	return Outcome{Kind: Delivered, ProviderMessageID: providerMessageID}
}

func Transient(format string, args ...interface{}) Outcome {
	return Outcome{Kind: TransientFailure, Reason: fmt.Sprintf(format, args...)}
}

func Permanent(format string, args ...interface{}) Outcome {
	return Outcome{Kind: PermanentFailure, Reason: fmt.Sprintf(format, args...)}
}

func Rejected(format string, args ...interface{}) Outcome {
	return Outcome{Kind: CredentialRejected, Reason: fmt.Sprintf(format, args...)}
}

// Adapter translates a canonical outbound message into one platform API call
// and maps the platform response into an Outcome. Classification must be
// exhaustive and deterministic for a given error. idemKey identifies the
// logical delivery to platforms that deduplicate.
type Adapter interface {
	Messenger() models.MessengerType
	Send(ctx context.Context, token *models.Token, chatID string, msg *models.Message, idemKey string) Outcome
}

// Refresher is implemented by adapters whose platform can exchange a refresh
// token for a new access token. The credential store tries it once per
// resolve before failing.
type Refresher interface {
	Refresh(ctx context.Context, token *models.Token) (accessToken, refreshToken string, err error)
}

// Registry holds the closed set of adapters keyed by messenger type.
type Registry struct {
	adapters map[models.MessengerType]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.MessengerType]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Messenger()] = a
	}
	return r
}

func (r *Registry) Get(m models.MessengerType) (Adapter, bool) {
	a, ok := r.adapters[m]
	return a, ok
}
