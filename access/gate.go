// Package access provides the capability check guarding administrative
// operations.
package access

import (
	"context"
	"sync"

	"github.com/xraph/settle/types"
)

// Gate decides whether caller may perform administrative operations.
type Gate interface {
	IsAdministrator(ctx context.Context, caller types.Address) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, caller types.Address) bool

// IsAdministrator implements Gate.
func (f GateFunc) IsAdministrator(ctx context.Context, caller types.Address) bool {
	return f(ctx, caller)
}

// Owner admits exactly one address.
type Owner struct {
	addr types.Address
}

// NewOwner returns a gate admitting addr.
func NewOwner(addr types.Address) Owner { return Owner{addr: addr} }

// Address returns the administrator.
func (o Owner) Address() types.Address { return o.addr }

// IsAdministrator implements Gate. The zero address is never admitted.
func (o Owner) IsAdministrator(_ context.Context, caller types.Address) bool {
	return !caller.IsZero() && caller == o.addr
}

// Set admits a mutable group of addresses.
type Set struct {
	mu     sync.RWMutex
	admins map[types.Address]struct{}
}

// NewSet returns a gate admitting addrs.
func NewSet(addrs ...types.Address) *Set {
	s := &Set{admins: make(map[types.Address]struct{}, len(addrs))}
	for _, a := range addrs {
		s.Grant(a)
	}
	return s
}

// Grant admits addr. The zero address is ignored.
func (s *Set) Grant(addr types.Address) {
	if addr.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[addr] = struct{}{}
}

// Revoke removes addr.
func (s *Set) Revoke(addr types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.admins, addr)
}

// IsAdministrator implements Gate.
func (s *Set) IsAdministrator(_ context.Context, caller types.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[caller]
	return ok
}
