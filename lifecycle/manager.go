// Package lifecycle implements the process-wide shutdown registry described
// in spec.md §4.5. A Manager tracks every live OutputPort-like resource and
// guarantees an orderly, idempotent shutdown: each registered resource is
// closed with a bounded per-resource timeout, errors are collected and
// logged rather than propagated, and a second Shutdown call is a no-op.
//
// The registration/fan-out shape is grounded on the teacher's
// runtime/agent/hooks.Bus: a mutex-guarded map keyed by the subscription
// handle itself, with idempotent Close via sync.Once.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/Prudent-Patterns/pyllments-sub000/telemetry"
)

// Closable is satisfied by any resource the Manager can shut down. OutputPort
// implements this directly; the Manager never imports the ports package, so
// there is no import cycle between ports (which registers with a Manager)
// and lifecycle (which shuts ports down).
type Closable interface {
	Close(ctx context.Context) error
}

// Manager tracks live Closable resources and drives shutdown across all of
// them. The zero value is not usable; construct with New or use Default.
type Manager struct {
	mu              sync.Mutex
	resources       map[*registration]Closable
	shutdownStarted bool
	logger          telemetry.Logger
	perResourceWait time.Duration
}

type registration struct {
	mgr  *Manager
	once sync.Once
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger sets the Logger used for shutdown diagnostics. Defaults to a
// no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPerResourceTimeout bounds how long Shutdown waits for any single
// resource's Close to return before moving on. Defaults to 5 seconds.
func WithPerResourceTimeout(d time.Duration) Option {
	return func(m *Manager) { m.perResourceWait = d }
}

// New constructs an isolated Manager, independent of the process-wide
// default. Tests should prefer New over Default so runs do not interfere
// with each other (spec.md §9: "tests must be able to instantiate isolated
// contexts").
func New(opts ...Option) *Manager {
	m := &Manager{
		resources:       make(map[*registration]Closable),
		logger:          telemetry.NoopLogger{},
		perResourceWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// Default returns the process-wide Manager, creating it on first use. A
// host process is expected to call Default().Shutdown(ctx) at exit.
func Default() *Manager {
	defaultOnce.Do(func() { defaultMgr = New() })
	return defaultMgr
}

// Registration represents one resource's membership in a Manager. Calling
// Close unregisters the resource without closing it (the resource's own
// Close is only invoked by Manager.Shutdown); this lets a resource that
// closes itself early (e.g. explicit user-driven port.Close) stop being
// tracked without double-closing.
type Registration struct {
	reg *registration
}

// Close removes the resource from the Manager's registry. Idempotent.
func (r *Registration) Close() {
	r.reg.once.Do(func() {
		r.reg.mgr.mu.Lock()
		delete(r.reg.mgr.resources, r.reg)
		r.reg.mgr.mu.Unlock()
	})
}

// Register adds resource to the Manager's tracked set and returns a
// Registration handle for early deregistration.
func (m *Manager) Register(resource Closable) *Registration {
	reg := &registration{mgr: m}
	m.mu.Lock()
	m.resources[reg] = resource
	m.mu.Unlock()
	return &Registration{reg: reg}
}

// ShutdownSummary reports the outcome of a Shutdown call.
type ShutdownSummary struct {
	Closed int
	Errors []error
}

// Shutdown closes every currently registered resource, bounding each
// resource's Close with the Manager's per-resource timeout, collecting and
// logging errors rather than propagating them. Shutdown is idempotent: a
// second call returns an empty summary immediately without re-closing
// already-closed resources (spec.md §8 Invariant 9).
func (m *Manager) Shutdown(ctx context.Context) ShutdownSummary {
	m.mu.Lock()
	if m.shutdownStarted {
		m.mu.Unlock()
		return ShutdownSummary{}
	}
	m.shutdownStarted = true
	snapshot := make(map[*registration]Closable, len(m.resources))
	for k, v := range m.resources {
		snapshot[k] = v
	}
	m.resources = make(map[*registration]Closable)
	m.mu.Unlock()

	summary := ShutdownSummary{}
	for _, resource := range snapshot {
		closeCtx, cancel := context.WithTimeout(ctx, m.perResourceWait)
		err := resource.Close(closeCtx)
		cancel()
		if err != nil {
			m.logger.Error(ctx, "lifecycle: error closing resource", "error", err)
			summary.Errors = append(summary.Errors, err)
			continue
		}
		summary.Closed++
	}
	return summary
}
