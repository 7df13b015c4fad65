// Package alarm decouples the orchestrator's tick loop from PostgreSQL
// write latency: Protection-field transitions are handed off to a buffered
// queue and persisted by a dedicated worker, the same queue-plus-worker
// idiom the teacher's alarm manager uses for BMS alarm records.
package alarm

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"bmscore/internal/protect"
	"bmscore/internal/storage"
)

const defaultQueueBufferSize = 256

// Manager buffers Protection transitions and persists them asynchronously,
// implementing engine.TransitionSink.
type Manager struct {
	pg    *storage.PostgresStore
	queue chan []protect.Transition
	ctx   context.Context
	cancel context.CancelFunc
	wg    sync.WaitGroup
	log   *zap.Logger
}

// NewManager creates an alarm Manager writing through to pg.
func NewManager(pg *storage.PostgresStore, logger *zap.Logger) *Manager {
	return &Manager{
		pg:    pg,
		queue: make(chan []protect.Transition, defaultQueueBufferSize),
		log:   logger.With(zap.String("component", "alarm_manager")),
	}
}

// Start launches the persistence worker.
func (m *Manager) Start() error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.worker()
	m.log.Info("alarm manager started")
	return nil
}

// Stop drains the queue and stops the worker.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("alarm manager stopped")
}

// RecordTransitions enqueues a batch of transitions for asynchronous
// persistence, implementing engine.TransitionSink. A full queue drops the
// batch rather than blocking the tick that produced it.
func (m *Manager) RecordTransitions(ctx context.Context, transitions []protect.Transition) {
	if len(transitions) == 0 {
		return
	}
	select {
	case m.queue <- transitions:
	default:
		m.log.Warn("alarm queue full, dropping transition batch", zap.Int("count", len(transitions)))
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			for {
				select {
				case batch := <-m.queue:
					m.persistWithRecovery(batch)
				default:
					return
				}
			}
		case batch := <-m.queue:
			m.persistWithRecovery(batch)
		}
	}
}

func (m *Manager) persistWithRecovery(batch []protect.Transition) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic recovered in alarm persistence worker", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	m.pg.RecordTransitions(context.Background(), batch)
}
