package settle

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	"github.com/xraph/settle/store"
)

// guard serializes mutating calls and refuses reentry. The context handed
// to collaborators during a call carries a frame; a call that arrives with
// its own engine's frame is reentrant and is refused instead of waiting
// forever.
//
// Collaborators that drop the frame (a callback that builds its own
// context) are not recognized as reentrant. For them the guard publishes
// the sessions the open call has already marked settled: reads report them
// settled and a second settlement of the same session fails at once. Any
// other mutating call waits for the open one and gives up when its context
// is done.
type guard struct {
	sem chan struct{}

	mu       sync.Mutex
	settling map[session.ID]settlement.Flag
}

type frameKey struct{}

type frame struct {
	engine *Engine

	mu sync.Mutex
	tx store.Store
}

// enter acquires the guard. The returned leave func must run on every path.
func (e *Engine) enter(ctx context.Context) (context.Context, *frame, func(), error) {
	if e.inCall(ctx) {
		return nil, nil, nil, ErrReentrantCall
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("settle: waiting for engine: %w", err)
	}
	select {
	case e.guard.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, nil, fmt.Errorf("settle: waiting for engine: %w", ctx.Err())
	}
	f := &frame{engine: e}
	return context.WithValue(ctx, frameKey{}, f), f, func() { <-e.guard.sem }, nil
}

// claim publishes flag until release. Only the guard holder calls it.
func (g *guard) claim(flag settlement.Flag) {
	g.mu.Lock()
	g.settling[flag.SessionID] = flag
	g.mu.Unlock()
}

func (g *guard) release(sessionID session.ID) {
	g.mu.Lock()
	delete(g.settling, sessionID)
	g.mu.Unlock()
}

// inFlight returns the flag the open call wrote for sessionID, if any.
func (g *guard) inFlight(sessionID session.ID) (settlement.Flag, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.settling[sessionID]
	return f, ok
}

// inCall reports whether ctx belongs to a call already holding the guard.
func (e *Engine) inCall(ctx context.Context) bool {
	f, ok := ctx.Value(frameKey{}).(*frame)
	return ok && f.engine == e
}

// refuseInFlight fails fast for a session the open call is settling.
// Reentrant calls are reported as such first.
func (e *Engine) refuseInFlight(ctx context.Context, sessionID session.ID) error {
	if e.inCall(ctx) {
		return ErrReentrantCall
	}
	if _, ok := e.guard.inFlight(sessionID); ok {
		return fmt.Errorf("%w: settlement of %s in progress", ErrAlreadySettled, sessionID)
	}
	return nil
}

func (f *frame) bind(tx store.Store) {
	f.mu.Lock()
	f.tx = tx
	f.mu.Unlock()
}

// reader returns the transaction of the call ctx belongs to, so that reads
// made by collaborators during a call observe its uncommitted effects.
func (e *Engine) reader(ctx context.Context) store.Store {
	if f, ok := ctx.Value(frameKey{}).(*frame); ok && f.engine == e {
		f.mu.Lock()
		tx := f.tx
		f.mu.Unlock()
		if tx != nil {
			return tx
		}
	}
	return e.store
}

// transact runs fn in a store transaction bound to the call frame.
func (e *Engine) transact(ctx context.Context, f *frame, fn func(ctx context.Context, tx store.Store) error) error {
	return e.store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		f.bind(tx)
		defer f.bind(nil)
		return fn(ctx, tx)
	})
}

// atomically runs fn as one unit: asset transfers and store writes either
// all commit or all roll back. Transfers run inside the store transaction,
// so a failed commit also undoes them.
func (e *Engine) atomically(ctx context.Context, f *frame, fn func(ctx context.Context, tx store.Store) error) error {
	return e.assets.Atomic(ctx, func(ctx context.Context) error {
		return e.transact(ctx, f, fn)
	})
}
