/*
mirror.go - Fire-and-forget mirroring to the external affiliate platform

Each newly created commission row is offered to the platform after the
ledger transaction commits. The ledger never waits for the platform and
never fails because of it: Dispatch only enqueues, and a full queue drops
the row with a warning.

LIFECYCLE:
  m := referral.NewAsyncMirror(client, logger, 256)
  defer m.Close()   // drains the queue, then stops the worker
*/
package referral

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PlatformMirror copies a commission row to an external system.
type PlatformMirror interface {
	MirrorCommission(ctx context.Context, c Commission) error
}

// Dispatcher is the non-blocking side of a mirror.
type Dispatcher interface {
	Dispatch(c Commission)
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(Commission) {}

// AsyncMirror runs a PlatformMirror on a background worker.
type AsyncMirror struct {
	mirror  PlatformMirror
	log     *zap.Logger
	timeout time.Duration

	queue chan Commission
	wg    sync.WaitGroup
	mu    sync.Mutex
	done  bool
}

func NewAsyncMirror(m PlatformMirror, log *zap.Logger, buffer int) *AsyncMirror {
	if log == nil {
		log = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 128
	}
	am := &AsyncMirror{
		mirror:  m,
		log:     log,
		timeout: 10 * time.Second,
		queue:   make(chan Commission, buffer),
	}
	am.wg.Add(1)
	go am.run()
	return am
}

// Dispatch enqueues c. It never blocks.
func (m *AsyncMirror) Dispatch(c Commission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return
	}
	select {
	case m.queue <- c:
	default:
		m.log.Warn("platform mirror queue full, dropping commission",
			zap.String("commission_id", string(c.ID)),
			zap.String("affiliate_id", string(c.AffiliateID)))
	}
}

// Close stops accepting rows and waits for queued ones to be sent.
func (m *AsyncMirror) Close() {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	close(m.queue)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *AsyncMirror) run() {
	defer m.wg.Done()
	for c := range m.queue {
		m.send(c)
	}
}

func (m *AsyncMirror) send(c Commission) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("platform mirror panicked",
				zap.String("commission_id", string(c.ID)),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := m.mirror.MirrorCommission(ctx, c); err != nil {
		m.log.Warn("platform mirror failed",
			zap.String("commission_id", string(c.ID)),
			zap.String("affiliate_id", string(c.AffiliateID)),
			zap.Error(err))
	}
}
