package billing

import (
	"strconv"
	"strings"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
)

// DefaultFallbackCredits is granted for price ids missing from the table.
const DefaultFallbackCredits = 5

// CreditTable maps provider price ids to the number of credits they buy.
type CreditTable struct {
	amounts  map[string]int
	fallback int
}

// NewCreditTable builds a table from explicit amounts. Non-positive amounts
// and empty price ids are ignored.
func NewCreditTable(amounts map[string]int) *CreditTable {
	t := &CreditTable{
		amounts:  make(map[string]int, len(amounts)),
		fallback: DefaultFallbackCredits,
	}
	for priceID, credits := range amounts {
		priceID = strings.TrimSpace(priceID)
		if priceID == "" || credits <= 0 {
			continue
		}
		t.amounts[priceID] = credits
	}
	return t
}

// CreditTableFromEnv reads PADDLE_PRICE_CREDITS ("pri_a:5,pri_b:20") and maps
// PADDLE_PRICE_ID / NEXT_PUBLIC_PADDLE_PRICE_ID to the default pack size.
func CreditTableFromEnv() *CreditTable {
	amounts := ParsePriceCredits(env.GetEnv("PADDLE_PRICE_CREDITS", ""))
	for _, key := range []string{"PADDLE_PRICE_ID", "NEXT_PUBLIC_PADDLE_PRICE_ID"} {
		if id := strings.TrimSpace(env.GetEnv(key, "")); id != "" {
			if _, ok := amounts[id]; !ok {
				amounts[id] = DefaultFallbackCredits
			}
		}
	}
	return NewCreditTable(amounts)
}

// ParsePriceCredits parses a comma separated list of price:credits pairs.
// Malformed pairs are skipped.
func ParsePriceCredits(raw string) map[string]int {
	out := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		id, amount, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(amount))
		if err != nil || n <= 0 {
			continue
		}
		if id = strings.TrimSpace(id); id != "" {
			out[id] = n
		}
	}
	return out
}

// Resolve returns the credits bought by priceID. known is false when the
// fallback amount was used.
func (t *CreditTable) Resolve(priceID string) (credits int, known bool) {
	if t == nil {
		return DefaultFallbackCredits, false
	}
	if n, ok := t.amounts[strings.TrimSpace(priceID)]; ok {
		return n, true
	}
	return t.fallback, false
}

// DefaultPriceID returns the configured checkout price, if any.
func DefaultPriceID() string {
	return firstNonEmpty(env.GetEnv("PADDLE_PRICE_ID", ""), env.GetEnv("NEXT_PUBLIC_PADDLE_PRICE_ID", ""))
}
