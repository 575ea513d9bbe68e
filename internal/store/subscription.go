package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/coin-tracker/internal/buffer"
)

// Subscription delivers a store's changes in commit order. The mailbox is
// unbounded, so a slow reader never blocks writers and never loses a batch.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Change

	store *Store
	queue *buffer.Queue[Change]
	out   chan Change
	done  chan struct{}
	once  sync.Once
}

func newSubscription(s *Store) *Subscription {
	out := make(chan Change)
	sub := &Subscription{
		ID:    uuid.New(),
		C:     out,
		store: s,
		queue: buffer.New[Change](16),
		out:   out,
		done:  make(chan struct{}),
	}
	go sub.pump()
	return sub
}

func (sub *Subscription) pump() {
	defer close(sub.out)

	for {
		change, ok := sub.queue.Receive()
		if !ok {
			return
		}
		select {
		case <-sub.done:
			return
		default:
		}
		select {
		case sub.out <- change:
		case <-sub.done:
			return
		}
	}
}

// Close stops delivery and closes C. Pending changes are discarded.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.store.unsubscribe(sub.ID)
		close(sub.done)
		sub.queue.Close()
	})
}
