package capacity

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines one supplier's limits.
type Config struct {
	// Supplier is the supplier name.
	Supplier string

	// MaxConcurrency limits how many of this supplier's jobs may run at
	// once. Zero means no supplier-specific limit.
	MaxConcurrency int

	// RateLimit is the sustained adapter calls per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 if RateLimit
	// is set but RateBurst is zero.
	RateBurst int
}

// supplierState tracks runtime state for a single supplier.
type supplierState struct {
	config  Config
	limiter *rate.Limiter
	active  int
	peak    int
}

// Manager controls global and per-supplier concurrency and rate limits.
// It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	global    int
	active    int
	suppliers map[string]*supplierState
}

// NewManager creates a Manager with a global cap and per-supplier
// configurations. A global cap of zero means unlimited.
func NewManager(global int, configs ...Config) *Manager {
	m := &Manager{
		global:    global,
		suppliers: make(map[string]*supplierState, len(configs)),
	}
	for _, cfg := range configs {
		m.suppliers[cfg.Supplier] = newSupplierState(cfg)
	}
	return m
}

func newSupplierState(cfg Config) *supplierState {
	ss := &supplierState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ss.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ss
}

// TryAcquire takes a global slot and a slot for supplier if both are free.
// The caller MUST call Release when the job finishes.
func (m *Manager) TryAcquire(supplier string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global > 0 && m.active >= m.global {
		return false
	}
	ss := m.suppliers[supplier]
	if ss != nil && ss.config.MaxConcurrency > 0 && ss.active >= ss.config.MaxConcurrency {
		return false
	}

	m.active++
	if ss != nil {
		ss.active++
		ss.peak = max(ss.peak, ss.active)
	}
	return true
}

// Release returns the slots taken by TryAcquire.
func (m *Manager) Release(supplier string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active > 0 {
		m.active--
	}
	if ss := m.suppliers[supplier]; ss != nil && ss.active > 0 {
		ss.active--
	}
}

// Wait blocks until supplier's token bucket yields a token or ctx ends.
// It returns immediately for suppliers without a rate limit.
func (m *Manager) Wait(ctx context.Context, supplier string) error {
	m.mu.Lock()
	var limiter *rate.Limiter
	if ss := m.suppliers[supplier]; ss != nil {
		limiter = ss.limiter
	}
	m.mu.Unlock()

	if limiter == nil {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}

// GlobalSpare returns how many more jobs may start before the global cap
// is reached, or -1 when there is no global cap.
func (m *Manager) GlobalSpare() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.global <= 0 {
		return -1
	}
	return m.global - m.active
}

// HasSpare reports whether TryAcquire(supplier) would currently succeed.
func (m *Manager) HasSpare(supplier string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.global > 0 && m.active >= m.global {
		return false
	}
	ss := m.suppliers[supplier]
	return ss == nil || ss.config.MaxConcurrency <= 0 || ss.active < ss.config.MaxConcurrency
}

// Active returns the number of running jobs for supplier.
func (m *Manager) Active(supplier string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ss := m.suppliers[supplier]; ss != nil {
		return ss.active
	}
	return 0
}

// ActiveTotal returns the number of running jobs across all suppliers.
func (m *Manager) ActiveTotal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Peak returns the highest concurrent count observed for supplier.
func (m *Manager) Peak(supplier string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ss := m.suppliers[supplier]; ss != nil {
		return ss.peak
	}
	return 0
}
