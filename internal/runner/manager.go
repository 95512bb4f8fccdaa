package runner

import (
	"context"
	"fmt"
	"sync"
	"trade_pilot/pkg/logger"
)

// Manager управляет раннерами разных инструментов. Состояние у каждого своё.
type Manager struct {
	mu      sync.Mutex
	runners map[string]*Runner
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(runners ...*Runner) *Manager {
	m := &Manager{runners: make(map[string]*Runner, len(runners))}
	for _, r := range runners {
		m.runners[r.InstID()] = r
	}
	return m
}

func (m *Manager) Runner(instID string) (*Runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[instID]
	return r, ok
}

func (m *Manager) Instruments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.runners))
	for id := range m.runners {
		out = append(out, id)
	}
	return out
}

// Start каждый раннер в своей горутине.
func (m *Manager) Start(parent context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return fmt.Errorf("manager already running")
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	for _, r := range m.runners {
		m.wg.Add(1)
		go func(r *Runner) {
			defer m.wg.Done()
			r.Start(ctx)
		}(r)
	}
	logger.Info("[RUNNER] started %d instruments", len(m.runners))
	return nil
}

// Stop сигналит раннерам и ждёт, пока текущие циклы дойдут до LOG, или отмены ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runners still finishing a cycle: %w", ctx.Err())
	}
}
