package jobqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/billing"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/billing/billingtest"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/cache/cachetest"
)

func resetManager() {
	globalManager = nil
	managerOnce = sync.Once{}
}

func TestGetManager(t *testing.T) {
	resetManager()
	t.Cleanup(resetManager)

	manager1 := newManager(NewQueueWithClient(nil, 2))
	globalManager = manager1
	managerOnce.Do(func() {})

	manager2 := GetManager()

	assert.Same(t, manager1, manager2, "GetManager should return the same instance")
	assert.NotNil(t, manager1.queue)
	assert.NotNil(t, manager1.stopCh)
	assert.False(t, manager1.running)
	assert.Equal(t, 5*time.Minute, manager1.reconcileInterval)
}

func TestManager_GetQueue(t *testing.T) {
	q := NewQueueWithClient(nil, 1)
	manager := newManager(q)
	assert.Same(t, q, manager.GetQueue())
}

func TestManager_UseBillingServiceRegistersHandlers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	q := NewQueueWithClient(nil, 1)
	manager := newManager(q)
	svc := billing.NewService(billingtest.NewMemoryRepository(), billing.Config{})

	manager.UseBillingService(svc)

	for _, jt := range []JobType{JobTypeCreditApply, JobTypeWebhookReconcile} {
		h, _, _ := q.handlerFor(jt)
		assert.NotNil(t, h, "handler for %s", jt)
	}
	_, sink, _ := q.handlerFor(JobTypeCreditApply)
	multi, ok := sink.(MultiDeadLetterSink)
	require.True(t, ok)
	assert.Len(t, multi, 2)
	assert.True(t, manager.billingReady)
}

func TestManager_StartStop(t *testing.T) {
	rdb := cachetest.NewIsolatedClient(t, isolatedJobQueueTestRedisDB)
	manager := newManager(NewQueueWithClient(rdb, 1))
	manager.UseBillingService(billing.NewService(billingtest.NewMemoryRepository(), billing.Config{}))

	assert.False(t, manager.IsRunning())
	manager.Start()
	assert.True(t, manager.IsRunning())
	manager.Start()
	assert.True(t, manager.IsRunning())

	manager.Stop()
	assert.False(t, manager.IsRunning())
	manager.Stop()

	// Restartable after a stop.
	manager.Start()
	assert.True(t, manager.IsRunning())
	manager.Stop()
}

func TestEnvInt(t *testing.T) {
	t.Setenv("JOBQUEUE_TEST_INT", "7")
	assert.Equal(t, 7, envInt("JOBQUEUE_TEST_INT", 1))

	t.Setenv("JOBQUEUE_TEST_INT", "seven")
	assert.Equal(t, 1, envInt("JOBQUEUE_TEST_INT", 1))

	t.Setenv("JOBQUEUE_TEST_INT", "")
	assert.Equal(t, 3, envInt("JOBQUEUE_TEST_INT", 3))
}
