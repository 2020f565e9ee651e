package progress

import (
	"sync"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// Broadcaster fans progress snapshots out to subscribers. Each subscriber holds
// at most one pending snapshot: a newer Publish replaces an unread one, so
// publishers never block on slow readers.
type Broadcaster struct {
	mu     sync.Mutex
	latest crawler.ProgressSnapshot
	has    bool
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Subscription receives snapshots from a Broadcaster.
type Subscription struct {
	id uint64
	b  *Broadcaster
	ch chan crawler.ProgressSnapshot
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]*Subscription)}
}

// Publish records snap as the latest value and offers it to every subscriber.
// Publishing after Close is ignored.
func (b *Broadcaster) Publish(snap crawler.ProgressSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = snap
	b.has = true
	for _, sub := range b.subs {
		sub.offer(snap)
	}
}

// Latest returns the most recently published snapshot.
func (b *Broadcaster) Latest() (crawler.ProgressSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.has
}

// Subscribe registers a new subscriber primed with the latest snapshot, if
// any. Subscribing to a closed Broadcaster yields the final snapshot followed
// by a closed channel.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{id: b.nextID, b: b, ch: make(chan crawler.ProgressSnapshot, 1)}
	b.nextID++
	if b.has {
		sub.ch <- b.latest
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Close closes every subscriber channel after its pending snapshot.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// C returns the channel snapshots are delivered on.
func (s *Subscription) C() <-chan crawler.ProgressSnapshot {
	return s.ch
}

// Unsubscribe detaches the subscriber and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.subs[s.id]; !ok {
		return
	}
	delete(s.b.subs, s.id)
	close(s.ch)
}

// offer replaces any unread snapshot with snap. Callers hold b.mu.
func (s *Subscription) offer(snap crawler.ProgressSnapshot) {
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
