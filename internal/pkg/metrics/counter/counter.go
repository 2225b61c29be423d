package counter

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/cache"
)

const (
	webhookOutcomesKey = "billing:counters:webhooks"
	creditsKey         = "billing:counters:credits"
)

// Webhook outcomes counted per delivery.
const (
	OutcomeApplied          = "applied"
	OutcomeDuplicate        = "duplicate"
	OutcomeUnhandled        = "unhandled"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeMalformed        = "malformed"
	OutcomeLedgerFailed     = "ledger_failed"
	OutcomeUnbound          = "unbound_customer"
)

// Credit movements.
const (
	CreditsGranted  = "granted"
	CreditsSpent    = "spent"
	CreditsRefunded = "refunded"
	FallbackPrices  = "fallback_price"
)

var client = func() *redis.Client { return cache.GetClient() }

// AddWebhookOutcome increments the counter of one webhook outcome in Redis
func AddWebhookOutcome(outcome string) error {
	ctx := context.Background()
	return client().HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// AddCredits adds n to a credit movement counter
func AddCredits(kind string, n int) error {
	if n == 0 {
		return nil
	}
	ctx := context.Background()
	return client().HIncrBy(ctx, creditsKey, kind, int64(n)).Err()
}

// Snapshot is the current state of all billing counters.
type Snapshot struct {
	Webhooks map[string]int64 `json:"webhooks"`
	Credits  map[string]int64 `json:"credits"`
}

// Read returns all counters. Missing hashes read as empty maps.
func Read(ctx context.Context) (*Snapshot, error) {
	webhooks, err := readHash(ctx, webhookOutcomesKey)
	if err != nil {
		return nil, err
	}
	credits, err := readHash(ctx, creditsKey)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Webhooks: webhooks, Credits: credits}, nil
}

func readHash(ctx context.Context, key string) (map[string]int64, error) {
	data, err := client().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for field, raw := range data {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

// Recorder is the counter sink handed to request handlers.
type Recorder interface {
	AddWebhookOutcome(outcome string) error
	AddCredits(kind string, n int) error
}

type redisRecorder struct{}

// NewRecorder returns a Recorder writing to the shared Redis client.
func NewRecorder() Recorder { return redisRecorder{} }

func (redisRecorder) AddWebhookOutcome(outcome string) error { return AddWebhookOutcome(outcome) }
func (redisRecorder) AddCredits(kind string, n int) error { return AddCredits(kind, n) }

// NopRecorder discards all counts.
type NopRecorder struct{}

func (NopRecorder) AddWebhookOutcome(string) error { return nil }
func (NopRecorder) AddCredits(string, int) error { return nil }
