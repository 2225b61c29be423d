package counter

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/cache/cachetest"
)

func TestCounters(t *testing.T) {
	rdb := cachetest.NewIsolatedClient(t, 13)
	prev := client
	client = func() *redis.Client { return rdb }
	t.Cleanup(func() { client = prev })

	require.NoError(t, AddWebhookOutcome(OutcomeApplied))
	require.NoError(t, AddWebhookOutcome(OutcomeApplied))
	require.NoError(t, AddWebhookOutcome(OutcomeInvalidSignature))
	require.NoError(t, AddCredits(CreditsGranted, 5))
	require.NoError(t, AddCredits(CreditsGranted, 3))
	require.NoError(t, AddCredits(CreditsSpent, 0))

	snap, err := Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Webhooks[OutcomeApplied])
	assert.Equal(t, int64(1), snap.Webhooks[OutcomeInvalidSignature])
	assert.Equal(t, int64(8), snap.Credits[CreditsGranted])
	_, ok := snap.Credits[CreditsSpent]
	assert.False(t, ok)
}

func TestRead_Empty(t *testing.T) {
	rdb := cachetest.NewIsolatedClient(t, 13)
	prev := client
	client = func() *redis.Client { return rdb }
	t.Cleanup(func() { client = prev })

	snap, err := Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Webhooks)
	assert.Empty(t, snap.Credits)
}
