package notify

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/credops/internal/logging"
)

const (
	// DefaultQueueSize is the maximum number of events that can be queued.
	DefaultQueueSize = 100

	// drainTimeout bounds delivery of each remaining event at shutdown.
	drainTimeout = 5 * time.Second
)

// Manager coordinates notification delivery across multiple providers.
// It uses an async bounded queue so delivery outages never block or fail
// the operation that produced the event.
type Manager struct {
	providers []Provider
	queue     chan Event
	wg        sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	done      chan struct{}
	logger    *logging.Logger

	droppedCount int64
	droppedMu    sync.Mutex
}

// NewManager creates a new notification manager with the specified queue size.
// If queueSize is 0, DefaultQueueSize is used.
func NewManager(queueSize int, logger *logging.Logger) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Manager{
		providers: make([]Provider, 0),
		queue:     make(chan Event, queueSize),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// RegisterProvider adds a notification provider to the manager.
func (m *Manager) RegisterProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
}

// Providers returns a copy of the registered providers.
func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	providers := make([]Provider, len(m.providers))
	copy(providers, m.providers)
	return providers
}

// Start begins the background notification worker goroutine.
// This must be called before sending events.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.worker(ctx)
}

// Stop gracefully shuts down the notification manager.
// It waits for pending notifications to be processed.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}

// Publish queues an event for delivery. If the queue is full the event is
// dropped and counted. This method never blocks and never returns an
// error - notifications are best-effort by contract.
func (m *Manager) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.RLock()
	if !m.running {
		m.mu.RUnlock()
		return
	}
	m.mu.RUnlock()

	select {
	case m.queue <- event:
	default:
		m.droppedMu.Lock()
		m.droppedCount++
		m.droppedMu.Unlock()
		incrementDroppedCounter()
	}
}

// DroppedCount returns the number of events dropped due to queue overflow.
func (m *Manager) DroppedCount() int64 {
	m.droppedMu.Lock()
	defer m.droppedMu.Unlock()
	return m.droppedCount
}

// worker processes events from the queue and dispatches to providers.
func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.drainQueue()
			return
		case <-m.done:
			m.drainQueue()
			return
		case event, ok := <-m.queue:
			if !ok {
				return
			}
			m.dispatchEvent(ctx, event)
		}
	}
}

// drainQueue processes any remaining events in the queue.
func (m *Manager) drainQueue() {
	for {
		select {
		case event, ok := <-m.queue:
			if !ok {
				return
			}
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			m.dispatchEvent(drainCtx, event)
			cancel()
		default:
			return
		}
	}
}

// dispatchEvent sends an event to all providers that support it. Delivery
// errors are logged, never propagated.
func (m *Manager) dispatchEvent(ctx context.Context, event Event) {
	m.mu.RLock()
	providers := m.providers
	m.mu.RUnlock()

	for _, provider := range providers {
		if !provider.SupportsEvent(event.Type) {
			continue
		}
		if err := provider.Send(ctx, event); err != nil {
			if m.logger != nil {
				m.logger.Warn("notification delivery via %s failed: %v", provider.Name(), err)
			}
		}
	}
}
