package cart

import (
	"sync"
	"time"

	"tiendapos/internal/xid"
)

// Registry tracks open cart sessions. Idle carts are swept lazily whenever a
// new cart is opened.
type Registry struct {
	mu    sync.Mutex
	carts map[string]*Cart
	idle  time.Duration
	now   func() time.Time
}

func NewRegistry(idle time.Duration) *Registry {
	if idle <= 0 {
		idle = 2 * time.Hour
	}
	return &Registry{
		carts: make(map[string]*Cart),
		idle:  idle,
		now:   time.Now,
	}
}

func (r *Registry) Open(locationID string, owner string) *Cart {
	r.Sweep()

	c := New(xid.New("cart"), locationID, owner)
	r.mu.Lock()
	r.carts[c.ID()] = c
	r.mu.Unlock()
	return c
}

func (r *Registry) Get(id string) (*Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[id]
	if !ok {
		return nil, ErrCartNotFound
	}
	return c, nil
}

// Discard abandons a cart. It has no side effects beyond forgetting the lines;
// a cart in the middle of checkout cannot be discarded.
func (r *Registry) Discard(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[id]
	if !ok {
		return ErrCartNotFound
	}
	if c.State() == StateCheckingOut {
		return ErrCheckoutInProgress
	}
	delete(r.carts, id)
	return nil
}

// Sweep drops carts idle for longer than the registry's idle window and
// returns how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, c := range r.carts {
		touched, busy := c.idleSince()
		if busy || touched.After(cutoff) {
			continue
		}
		delete(r.carts, id)
		removed++
	}
	return removed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.carts)
}
