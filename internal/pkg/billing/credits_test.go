package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
)

func TestParsePriceCredits(t *testing.T) {
	got := ParsePriceCredits(" pri_a:5, pri_b : 20 ,broken,pri_c:-1,pri_d:x,:3")
	assert.Equal(t, map[string]int{"pri_a": 5, "pri_b": 20}, got)
	assert.Empty(t, ParsePriceCredits(""))
}

func TestCreditTable_Resolve(t *testing.T) {
	table := NewCreditTable(map[string]int{"pri_small": 5, "pri_large": 20, "pri_zero": 0})

	n, known := table.Resolve("pri_large")
	assert.True(t, known)
	assert.Equal(t, 20, n)

	n, known = table.Resolve("pri_zero")
	assert.False(t, known)
	assert.Equal(t, DefaultFallbackCredits, n)

	n, known = table.Resolve("pri_unknown")
	assert.False(t, known)
	assert.Equal(t, 5, n)

	var nilTable *CreditTable
	n, known = nilTable.Resolve("pri_small")
	assert.False(t, known)
	assert.Equal(t, 5, n)
}

func TestCreditTableFromEnv(t *testing.T) {
	prev := env.Env
	t.Cleanup(func() { env.Env = prev })
	env.Env = map[string]string{
		"PADDLE_PRICE_CREDITS":        "pri_pack:12",
		"NEXT_PUBLIC_PADDLE_PRICE_ID": "pri_default",
		"PADDLE_PRICE_ID":             "pri_pack",
	}

	table := CreditTableFromEnv()

	n, known := table.Resolve("pri_pack")
	assert.True(t, known)
	assert.Equal(t, 12, n, "explicit amount wins over the default pack size")

	n, known = table.Resolve("pri_default")
	assert.True(t, known)
	assert.Equal(t, 5, n)

	assert.Equal(t, "pri_pack", DefaultPriceID())
}
