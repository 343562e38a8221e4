package openfinance

import (
	"context"
	"sync"
)

// ItemLocker grants exclusive use of an item to one sync or deactivation at a
// time. TryLock never blocks waiting for a holder: ok is false when the item
// is already held. unlock is non-nil only when ok is true.
type ItemLocker interface {
	TryLock(ctx context.Context, itemID string) (unlock func(), ok bool, err error)
}

// MemoryItemLocker is an in-process ItemLocker for single-replica deployments.
type MemoryItemLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ ItemLocker = (*MemoryItemLocker)(nil)

func NewMemoryItemLocker() *MemoryItemLocker {
	return &MemoryItemLocker{held: make(map[string]struct{})}
}

func (l *MemoryItemLocker) TryLock(_ context.Context, itemID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[itemID]; busy {
		return nil, false, nil
	}
	l.held[itemID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, itemID)
			l.mu.Unlock()
		})
	}, true, nil
}
