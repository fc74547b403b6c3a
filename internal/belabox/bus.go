package belabox

import "sync"

// Subscription is a live handle on the session's event stream. Read
// decoded messages from C; call Cancel when done. C is closed when the
// subscription is cancelled or the session is torn down.
type Subscription struct {
	C      <-chan Message
	cancel func()
}

// Cancel detaches the subscription and closes C. Safe to call twice.
func (s *Subscription) Cancel() { s.cancel() }

// bus fans decoded messages out to all current subscribers. Publishing
// never blocks: a subscriber whose channel is full misses the message.
type bus struct {
	mu     sync.Mutex
	closed bool
	next   int
	subs   map[int]chan Message
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Message)}
}

func (b *bus) publish(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- m:
		default:
			// Subscriber is lagging; drop rather than stall the dispatcher.
		}
	}
}

// subscribe registers a new subscriber with the given channel buffer.
// It fails fast once the session has been torn down.
func (b *bus) subscribe(buf int) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrSessionClosed
	}
	id := b.next
	b.next++
	ch := make(chan Message, buf)
	b.subs[id] = ch
	var once sync.Once
	return &Subscription{
		C:      ch,
		cancel: func() { once.Do(func() { b.remove(id) }) },
	}, nil
}

func (b *bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// close invalidates the bus: all subscriber channels are closed and
// future subscribe calls fail with ErrSessionClosed.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// subscriberCount reports the number of attached subscribers.
func (b *bus) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
