package bus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Topic is a typed fan-out channel.
type Topic[T any] struct {
	topicName string
	bus       *Bus

	mu        sync.Mutex
	subs      map[string]*Subscription[T]
	published uint64
	rejected  uint64
	closed    bool
}

// Subscription is one subscriber's buffered view of a topic.
type Subscription[T any] struct {
	name  string
	topic *Topic[T]
	ch    chan T

	// guarded by topic.mu
	restarts int
	dead     bool
	removed  bool
}

// Name returns the subscriber name.
func (s *Subscription[T]) Name() string { return s.name }

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Unsubscribe detaches the subscriber and closes its channel.
func (s *Subscription[T]) Unsubscribe() {
	s.topic.remove(s)
}

func (t *Topic[T]) name() string { return t.topicName }

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.topicName }

// Subscribe attaches a named subscriber with its own bounded buffer.
func (t *Topic[T]) Subscribe(name string) (*Subscription[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if _, exists := t.subs[name]; exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateSubscriber, t.topicName, name)
	}
	sub := &Subscription[T]{
		name:  name,
		topic: t,
		ch:    make(chan T, t.bus.opts.BufferSize),
	}
	t.subs[name] = sub
	return sub, nil
}

// Publish delivers v to every subscriber without blocking. If any subscriber
// buffer is full nothing is delivered and ErrBackpressure is returned.
func (t *Topic[T]) Publish(v T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	// Only Publish sends, and it holds the lock, so free capacity observed
	// here cannot shrink before the sends below.
	for _, sub := range t.subs {
		if sub.removed {
			continue
		}
		if len(sub.ch) >= cap(sub.ch) {
			t.rejected++
			return fmt.Errorf("%w: %s/%s", ErrBackpressure, t.topicName, sub.name)
		}
	}
	for _, sub := range t.subs {
		if !sub.removed {
			sub.ch <- v
		}
	}
	t.published++
	return nil
}

// Handle subscribes under name and runs fn for every delivered value in a
// dedicated goroutine until ctx is done or the topic closes. A returned error
// is logged and the loop continues. A panic is recovered and the handler
// restarted; after MaxRestarts panics the subscriber is marked dead and
// detached so it no longer blocks publishers.
func (t *Topic[T]) Handle(ctx context.Context, name string, fn func(context.Context, T) error) (*Subscription[T], error) {
	sub, err := t.Subscribe(name)
	if err != nil {
		return nil, err
	}
	b := t.bus
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		logger := b.opts.Logger.With("topic", t.topicName, "subscriber", name)
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case v, ok := <-sub.ch:
				if !ok {
					return
				}
				panicked, herr := invoke(ctx, fn, v)
				if herr != nil && !panicked {
					logger.Warn("bus handler returned error", "error", herr)
					continue
				}
				if !panicked {
					continue
				}
				logger.Error("bus handler panicked", "error", herr)
				if t.recordPanic(sub) {
					logger.Error("bus handler exceeded restart limit; marking dead",
						"max_restarts", b.opts.MaxRestarts)
					return
				}
			}
		}
	}()
	return sub, nil
}

func invoke[T any](ctx context.Context, fn func(context.Context, T) error, v T) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return false, fn(ctx, v)
}

// recordPanic counts a handler panic and reports whether the subscriber died.
func (t *Topic[T]) recordPanic(sub *Subscription[T]) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub.restarts++
	if sub.restarts <= t.bus.opts.MaxRestarts {
		return false
	}
	sub.dead = true
	t.detachLocked(sub)
	return true
}

func (t *Topic[T]) remove(sub *Subscription[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detachLocked(sub)
}

func (t *Topic[T]) detachLocked(sub *Subscription[T]) {
	if sub.removed {
		return
	}
	sub.removed = true
	// Dead subscribers stay visible in stats but stop receiving.
	if !sub.dead {
		delete(t.subs, sub.name)
	} else {
		t.subs[sub.name] = sub
	}
	close(sub.ch)
}

func (t *Topic[T]) stats() TopicStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := TopicStats{
		Name:      t.topicName,
		Published: t.published,
		Rejected:  t.rejected,
		Closed:    t.closed,
	}
	for _, sub := range t.subs {
		depth := 0
		if !sub.removed {
			depth = len(sub.ch)
		}
		out.Subscribers = append(out.Subscribers, SubscriberStats{
			Name:     sub.name,
			Depth:    depth,
			Capacity: cap(sub.ch),
			Restarts: sub.restarts,
			Dead:     sub.dead,
		})
	}
	out.Subscribers = sortedSubscriberStats(out.Subscribers)
	return out
}

func (t *Topic[T]) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, sub := range t.subs {
		if !sub.removed {
			sub.removed = true
			close(sub.ch)
		}
	}
}
