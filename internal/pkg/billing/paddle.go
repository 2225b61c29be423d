package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ManuelReschke/PixelBoost/app/models"
)

// EventClass is the handling branch selected for a webhook event type.
type EventClass string

const (
	EventClassSubscribed EventClass = "subscribed"
	EventClassPurchased  EventClass = "purchased"
	EventClassUnhandled  EventClass = "unhandled"
)

// Paddle event types that grant credits.
const (
	PaddleEventSubscriptionCreated  = "subscription.created"
	PaddleEventSubscriptionUpdated  = "subscription.updated"
	PaddleEventTransactionCompleted = "transaction.completed"
)

// ClassifyPaddleEvent maps a Paddle event type to its handling branch.
func ClassifyPaddleEvent(eventType string) EventClass {
	switch strings.TrimSpace(eventType) {
	case PaddleEventSubscriptionCreated, PaddleEventSubscriptionUpdated:
		return EventClassSubscribed
	case PaddleEventTransactionCompleted:
		return EventClassPurchased
	default:
		return EventClassUnhandled
	}
}

// CreditReason returns the ledger reason recorded for this class.
func (c EventClass) CreditReason() string {
	if c == EventClassSubscribed {
		return models.CreditReasonSubscription
	}
	return models.CreditReasonPurchase
}

// PaddleWebhookEvent is a parsed and normalized Paddle webhook body.
type PaddleWebhookEvent struct {
	EventID      string
	EventType    string
	OccurredAt   string
	Class        EventClass
	CustomerID   string
	PriceID      string
	CustomUserID string
}

// Grant converts the event into the input of Service.ApplyCredit.
func (e *PaddleWebhookEvent) Grant() CreditGrant {
	return CreditGrant{
		Provider:        models.BillingProviderPaddle,
		ProviderEventID: e.EventID,
		CustomerID:      e.CustomerID,
		PriceID:         e.PriceID,
		CustomUserID:    e.CustomUserID,
		Class:           e.Class,
	}
}

type paddleEnvelope struct {
	EventID         string          `json:"eventId"`
	EventIDSnake    string          `json:"event_id"`
	EventType       string          `json:"eventType"`
	EventTypeSnake  string          `json:"event_type"`
	OccurredAt      string          `json:"occurredAt"`
	OccurredAtSnake string          `json:"occurred_at"`
	Data            json.RawMessage `json:"data"`
}

// paddleData covers both the subscription and the transaction payload
// shapes. Only the fields used for crediting are decoded.
type paddleData struct {
	ID              string         `json:"id"`
	CustomerID      string         `json:"customerId"`
	CustomerIDSnake string         `json:"customer_id"`
	Customer        *paddleRef     `json:"customer"`
	PriceID         string         `json:"priceId"`
	PriceIDSnake    string         `json:"price_id"`
	Items           []paddleItem   `json:"items"`
	CustomData      map[string]any `json:"customData"`
	CustomDataSnake map[string]any `json:"custom_data"`
}

type paddleItem struct {
	PriceID      string     `json:"priceId"`
	PriceIDSnake string     `json:"price_id"`
	Price        *paddleRef `json:"price"`
}

type paddleRef struct {
	ID string `json:"id"`
}

// ParsePaddleWebhookEvent decodes a verified webhook body. Unhandled event
// types are returned without further extraction. A body without an event id
// gets PayloadEventID of the raw payload. For credit-granting types a
// missing customer or price id is reported as ErrMalformedPayload.
func ParsePaddleWebhookEvent(payload []byte) (*PaddleWebhookEvent, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedPayload)
	}

	var env paddleEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	out := &PaddleWebhookEvent{
		EventID:    firstNonEmpty(env.EventID, env.EventIDSnake),
		EventType:  firstNonEmpty(env.EventType, env.EventTypeSnake),
		OccurredAt: firstNonEmpty(env.OccurredAt, env.OccurredAtSnake),
	}
	// An id-less body is keyed by its hash so redeliveries still dedupe.
	if out.EventID == "" {
		out.EventID = PayloadEventID(string(payload))
	}
	out.Class = ClassifyPaddleEvent(out.EventType)
	if out.Class == EventClassUnhandled {
		return out, nil
	}

	var data paddleData
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
		}
	}

	out.CustomerID = data.customerID()
	out.PriceID = data.priceID()
	out.CustomUserID = data.customUserID()
	if out.CustomerID == "" || out.PriceID == "" {
		return nil, fmt.Errorf("%w: missing customer or price data", ErrMalformedPayload)
	}
	return out, nil
}

func (d *paddleData) customerID() string {
	if id := firstNonEmpty(d.CustomerID, d.CustomerIDSnake); id != "" {
		return id
	}
	if d.Customer != nil {
		return strings.TrimSpace(d.Customer.ID)
	}
	return ""
}

func (d *paddleData) priceID() string {
	if len(d.Items) > 0 {
		item := d.Items[0]
		if id := firstNonEmpty(item.PriceID, item.PriceIDSnake); id != "" {
			return id
		}
		if item.Price != nil {
			if id := strings.TrimSpace(item.Price.ID); id != "" {
				return id
			}
		}
	}
	return firstNonEmpty(d.PriceID, d.PriceIDSnake)
}

func (d *paddleData) customUserID() string {
	for _, m := range []map[string]any{d.CustomData, d.CustomDataSnake} {
		for _, key := range []string{"userId", "user_id"} {
			if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
