// Package workers contains code to manage the lifecycle of the
// goroutine workers composing the session engine.
package workers

import (
	"errors"
	"sync"

	"github.com/raa-org/sevpn/internal/model"
)

// ErrShutdown is the error returned by a worker that is shutting down.
var ErrShutdown = errors.New("worker is shutting down")

// Manager coordinates a set of workers. The zero value is invalid;
// construct with [NewManager].
type Manager struct {
	// logger is the logger to use.
	logger model.Logger

	// shouldShutdown is closed to signal all workers to shut down.
	shouldShutdown chan any

	// shutdownOnce ensures we close shouldShutdown just once.
	shutdownOnce sync.Once

	// wg tracks the running workers.
	wg *sync.WaitGroup
}

// NewManager creates a new [Manager].
func NewManager(logger model.Logger) *Manager {
	return &Manager{
		logger:         logger,
		shouldShutdown: make(chan any),
		shutdownOnce:   sync.Once{},
		wg:             &sync.WaitGroup{},
	}
}

// StartWorker starts the given worker in a background goroutine.
func (m *Manager) StartWorker(fn func()) {
	m.wg.Add(1)
	go fn()
}

// OnWorkerDone MUST be called by each worker when it is done. The
// worker name is only used for logging.
func (m *Manager) OnWorkerDone(name string) {
	m.logger.Debugf("%s: worker done", name)
	m.wg.Done()
}

// StartShutdown signals all workers to shut down. Idempotent.
func (m *Manager) StartShutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shouldShutdown)
	})
}

// ShouldShutdown returns the channel closed when a shutdown has
// been requested.
func (m *Manager) ShouldShutdown() <-chan any {
	return m.shouldShutdown
}

// WaitWorkersDone blocks until all workers terminated.
func (m *Manager) WaitWorkersDone() {
	m.wg.Wait()
}
