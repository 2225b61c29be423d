package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
	metrics "github.com/ManuelReschke/PixelBoost/internal/pkg/metrics/counter"
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue             *Queue
	reconcileTicker   *time.Ticker
	reconcileInterval time.Duration
	kafkaSink         *KafkaDeadLetterSink
	billingReady      bool
	stopCh            chan struct{}
	wg                sync.WaitGroup
	mu                sync.Mutex
	running           bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = newManager(NewQueue(envInt("JOBQUEUE_WORKERS", 3)))
	})
	return globalManager
}

func newManager(q *Queue) *Manager {
	m := &Manager{
		queue:             q,
		reconcileInterval: time.Duration(envInt("BILLING_RECONCILE_INTERVAL_MINUTES", 5)) * time.Minute,
		stopCh:            make(chan struct{}),
	}
	if d := envInt("JOBQUEUE_RETRY_DELAY_SECONDS", 60); d > 0 {
		q.SetRetryDelay(time.Duration(d) * time.Second)
	}
	return m
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// UseBillingService registers the billing job handlers and the dead letter
// sinks for them. Call it before Start.
func (m *Manager) UseBillingService(svc CreditService) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := metrics.NewRecorder()
	m.queue.Register(JobTypeCreditApply, NewCreditApplyHandler(svc, rec))
	m.queue.Register(JobTypeWebhookReconcile, NewWebhookReconcileHandler(svc, m.queue, envInt("BILLING_RECONCILE_MAX_ATTEMPTS", DefaultReconcileMaxAttempts)))

	sinks := MultiDeadLetterSink{LogDeadLetterSink{}, WebhookMarkerSink{Service: svc}}
	if m.kafkaSink == nil {
		m.kafkaSink = KafkaDeadLetterSinkFromEnv()
	}
	if m.kafkaSink != nil {
		sinks = append(sinks, m.kafkaSink)
	}
	m.queue.SetDeadLetterSink(sinks)
	m.billingReady = true
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.billingReady && m.reconcileInterval > 0 {
		m.reconcileTicker = time.NewTicker(m.reconcileInterval)
		m.wg.Add(1)
		go m.reconcileWorker(m.reconcileTicker, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
		m.reconcileTicker = nil
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	if m.kafkaSink != nil {
		if err := m.kafkaSink.Close(); err != nil {
			log.Warnf("[JobQueue Manager] Closing kafka sink: %v", err)
		}
		m.kafkaSink = nil
	}

	log.Info("[JobQueue Manager] Stopped successfully")
}

// reconcileWorker periodically enqueues a sweep over unfinished webhook events
func (m *Manager) reconcileWorker(ticker *time.Ticker, stopCh chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started webhook reconcile worker (interval: %s)", m.reconcileInterval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Reconcile worker stopping")
			return
		case <-ticker.C:
			if err := m.RunReconcileOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Error enqueuing reconcile sweep: %v", err)
			}
		}
	}
}

// RunReconcileOnce enqueues a single reconcile sweep with default bounds
func (m *Manager) RunReconcileOnce() error {
	_, err := m.queue.EnqueueJob(JobTypeWebhookReconcile, WebhookReconcileJobPayload{
		MinAgeSeconds: int(DefaultReconcileMinAge / time.Second),
		Limit:         DefaultReconcileLimit,
	}.ToMap())
	return err
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func envInt(key string, fallback int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warnf("[JobQueue Manager] Invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return v
}
