package client

import "sync"

// Subscription is a scoped listener registration. Release unregisters the
// listener; it is safe to call more than once and from any goroutine.
type Subscription struct {
	once    sync.Once
	release func()
}

func NewSubscription(release func()) *Subscription {
	return &Subscription{release: release}
}

func (s *Subscription) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Subscriptions releases a group of subscriptions together. Add after
// ReleaseAll releases the new subscription immediately.
type Subscriptions struct {
	mu       sync.Mutex
	subs     []*Subscription
	released bool
}

func (g *Subscriptions) Add(s *Subscription) {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		s.Release()
		return
	}
	g.subs = append(g.subs, s)
	g.mu.Unlock()
}

func (g *Subscriptions) ReleaseAll() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.released = true
	g.mu.Unlock()

	for _, s := range subs {
		s.Release()
	}
}

// listeners is a set of callbacks keyed by registration.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) *Subscription {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.mu.Unlock()

	return NewSubscription(func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	})
}

// each calls every listener registered at the time of the call, in
// registration order. A listener released by an earlier one is skipped.
func (l *listeners[T]) each(v T) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	sortInts(ids)

	for _, id := range ids {
		l.mu.Lock()
		fn, ok := l.fns[id]
		l.mu.Unlock()
		if ok {
			fn(v)
		}
	}
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	l.fns = nil
	l.mu.Unlock()
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

func sortInts(a []int) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}
