// Package background runs the detached maintenance work: popular-mood
// precompute and per-user cache warming. Tasks are tracked by name so
// shutdown can cancel and wait for all of them.
package background

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Manager struct {
	logger *zap.Logger
	root   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]struct{}
	wg     sync.WaitGroup
	closed bool
}

func NewManager(logger *zap.Logger) *Manager {
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger: logger.Named("background"),
		root:   root,
		cancel: cancel,
		tasks:  make(map[string]struct{}),
	}
}

// Spawn runs fn on its own goroutine under the manager's lifecycle, detached
// from the caller's context. The task is tracked until fn returns and is
// cancelled on Shutdown. Spawning after Shutdown is a no-op.
func (m *Manager) Spawn(name string, fn func(ctx context.Context)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Debug("task rejected after shutdown", zap.String("task", name))
		return
	}
	m.tasks[name] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug("task started", zap.String("task", name))
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.tasks, name)
			m.mu.Unlock()
			m.wg.Done()
			m.logger.Debug("task finished", zap.String("task", name))
		}()
		fn(m.root)
	}()
}

// ActiveTasks returns the names of tasks currently running.
func (m *Manager) ActiveTasks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tasks))
	for name := range m.tasks {
		names = append(names, name)
	}
	return names
}

// Shutdown cancels every running task and blocks until they all return.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Info("background tasks stopped")
}
