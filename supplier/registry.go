package supplier

import (
	"fmt"
	"slices"
	"sync"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
)

// Entry is a registered supplier: its descriptor and capability.
type Entry struct {
	Descriptor Descriptor
	Adapter    Adapter
}

// Registry maps supplier names to their descriptor and adapter.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	sealed  bool
}

// NewRegistry creates an empty supplier registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a supplier. It fails if the name is empty or taken, or if
// the registry has been sealed.
func (r *Registry) Register(d Descriptor, a Adapter) error {
	if d.Name == "" {
		return fmt.Errorf("%w: supplier name is required", jascrapers.ErrInvalidParameters)
	}
	if a == nil {
		return fmt.Errorf("%w: supplier %q has no adapter", jascrapers.ErrInvalidParameters, d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return jascrapers.ErrRegistrySealed
	}
	if _, ok := r.entries[d.Name]; ok {
		return fmt.Errorf("%w: %q", jascrapers.ErrSupplierExists, d.Name)
	}
	r.entries[d.Name] = Entry{Descriptor: d, Adapter: a}
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns all registered supplier names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Descriptors returns every descriptor ordered by name.
func (r *Registry) Descriptors() []Descriptor {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name].Descriptor)
	}
	return out
}

// Validate checks that supplier is registered and that its adapter accepts
// params. Every failure wraps ErrInvalidParameters; an unknown supplier
// also wraps ErrUnknownSupplier.
func (r *Registry) Validate(supplier string, params map[string]string) error {
	e, ok := r.Lookup(supplier)
	if !ok {
		return fmt.Errorf("%w: %w: %q", jascrapers.ErrInvalidParameters, jascrapers.ErrUnknownSupplier, supplier)
	}
	if v, ok := e.Adapter.(Validator); ok {
		if err := v.ValidateParameters(params); err != nil {
			return fmt.Errorf("%w: %s: %w", jascrapers.ErrInvalidParameters, supplier, err)
		}
	}
	return nil
}
