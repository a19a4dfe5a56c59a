package audit

import (
	"context"
	"sync"

	"sigep.org/internal/obs"
)

// Feed fans stored records out to live subscribers such as the audit event stream.
// Slow subscribers miss records rather than stall the writer.
type Feed struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	ch     chan Record
	filter Filter
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]subscriber)}
}

// Subscribe returns a channel of records matching f. It is closed once ctx ends.
func (f *Feed) Subscribe(ctx context.Context, filter Filter) <-chan Record {
	ch := make(chan Record, 32)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = subscriber{ch: ch, filter: filter}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()
	return ch
}

func (f *Feed) Publish(rec Record) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		if !s.filter.Match(rec) {
			continue
		}
		select {
		case s.ch <- rec:
		default:
			obs.AuditFeedDrops.Inc()
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
