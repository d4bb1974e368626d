// Package task manages the lifecycle of supervisor goroutines: named
// long-running tasks and fixed-interval tick tasks, with panic protection
// and a Stop/Wait teardown discipline.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plasmalab/gasflow/logger"
)

// Func is the body of a managed task. It returns true to keep running and
// false to stop the task.
type Func func() bool

// Manager owns a group of goroutines sharing one cancellation context.
//
// Stop signals every task to terminate; Wait blocks until they have all
// exited and then rearms the manager for reuse.
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger

	mu      sync.Mutex // protects ctx and cancel
	tickers sync.Map   // map[string]*time.Ticker
}

// NewManager creates a Manager whose tasks are children of ctx.
func NewManager(ctx context.Context, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}

	mgr := &Manager{pctx: ctx, logger: log}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Start runs fn in a managed goroutine. fn is called in a loop until it
// returns false or the manager stops.
func (m *Manager) Start(name string, fn Func) error {
	ctx, err := m.liveContext()
	if err != nil {
		return err
	}

	m.logger.Debug("start task", "name", name)
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if !m.callWithRecover(name, fn) {
				return
			}
		}
	}()

	return nil
}

// StartInterval runs fn every interval in a managed goroutine. When runNow
// is true, fn is executed once before the first tick. The task stops when
// fn returns false or the manager stops.
func (m *Manager) StartInterval(name string, fn Func, interval time.Duration, runNow bool) error {
	if interval <= 0 {
		return fmt.Errorf("task: invalid interval %v", interval)
	}

	ctx, err := m.liveContext()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	if _, loaded := m.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return fmt.Errorf("task: interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		m.tickers.Delete(name)
	}

	if runNow && !m.callWithRecover(name, fn) {
		cleanup()
		m.logger.Debug("interval task terminated by first run", "name", name)
		return nil
	}

	m.logger.Debug("start interval task", "name", name, "interval", interval)
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer cleanup()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !m.callWithRecover(name, fn) {
					return
				}
			}
		}
	}()

	return nil
}

// StopInterval stops the named interval task's ticker. The task goroutine
// exits on the manager's Stop, or keeps idling until then.
func (m *Manager) StopInterval(name string) error {
	val, ok := m.tickers.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("task: interval task %s not found", name)
	}

	val.(*time.Ticker).Stop()

	return nil
}

// Stop signals all running tasks to terminate.
func (m *Manager) Stop() {
	m.tickers.Range(func(_, value any) bool {
		value.(*time.Ticker).Stop()
		return true
	})

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
}

// Wait blocks until all tasks have exited, then recreates the cancellation
// context so the manager can be reused.
func (m *Manager) Wait() {
	m.wg.Wait()

	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(m.pctx)
	m.mu.Unlock()
}

// liveContext returns the current context, or an error if the manager has
// already been stopped.
func (m *Manager) liveContext() (context.Context, error) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("task: manager already stopped")
	default:
		return ctx, nil
	}
}

// callWithRecover invokes fn with panic protection. A panicking task is
// treated as requesting continuation; the panic is logged.
func (m *Manager) callWithRecover(name string, fn Func) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in task", "name", name, "panic", r)
			cont = true
		}
	}()

	return fn()
}
