package vehicle

import (
	"sync"
	"time"
)

const subscriberBuffer = 64

// Feed merges partial telemetry updates (health, position, armed, in-air,
// connection) into full State snapshots and fans them out to subscribers.
//
// Delivery never blocks the publisher: a subscriber that falls behind by more
// than its buffer loses its oldest pending samples, never the newest, and
// never sees samples out of order.
type Feed struct {
	mu        sync.Mutex
	latest    State
	published bool
	seq       uint64
	subs      map[int]chan State
	nextID    int
	closed    bool
	now       func() time.Time
}

func NewFeed() *Feed {
	return &Feed{
		subs: make(map[int]chan State),
		now:  time.Now,
	}
}

// Update applies fn to a copy of the latest snapshot and publishes the result
// as a new sample.
func (f *Feed) Update(fn func(s *State)) State {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.latest
	fn(&next)
	f.seq++
	next.Seq = f.seq
	next.Timestamp = f.now()

	if f.closed {
		return next
	}

	f.latest = next
	f.published = true
	for _, ch := range f.subs {
		deliver(ch, next)
	}

	return next
}

func (f *Feed) Subscribe() (<-chan State, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan State, subscriberBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(ch)
			}
		})
	}

	return ch, unsubscribe
}

func (f *Feed) Latest() (State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.published
}

func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close ends every subscription. Updates after Close are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

func deliver(ch chan State, s State) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		// full: drop the oldest pending sample
		select {
		case <-ch:
		default:
		}
	}
}
