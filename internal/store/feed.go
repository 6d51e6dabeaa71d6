package store

import (
	"sync"

	"github.com/ashureev/chairwatch/internal/domain"
)

// Topic selects which part of a chair record a subscriber follows.
type Topic int

const (
	// TopicSensor fires when a new sensor snapshot is written.
	TopicSensor Topic = iota
	// TopicState fires when the persisted chair state changes.
	TopicState
)

func (t Topic) String() string {
	switch t {
	case TopicSensor:
		return "sensor"
	case TopicState:
		return "state"
	}
	return "unknown"
}

// Change is a single notification delivered to subscribers.
type Change struct {
	ChairID string
	Topic   Topic
	Reading *domain.Reading
	State   domain.ChairState
}

type subscription struct {
	topic Topic
	fn    func(Change)
}

// feed is the in-process change notifier shared by the store implementations.
// Callbacks run on the writer's goroutine and must not block.
type feed struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]subscription
}

func newFeed() *feed {
	return &feed{subs: make(map[string]map[int]subscription)}
}

func (f *feed) subscribe(chairID string, topic Topic, fn func(Change)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	if f.subs[chairID] == nil {
		f.subs[chairID] = make(map[int]subscription)
	}
	f.subs[chairID][id] = subscription{topic: topic, fn: fn}
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[chairID], id)
			if len(f.subs[chairID]) == 0 {
				delete(f.subs, chairID)
			}
		})
	}
}

func (f *feed) publish(c Change) {
	f.mu.RLock()
	fns := make([]func(Change), 0, len(f.subs[c.ChairID]))
	for _, s := range f.subs[c.ChairID] {
		if s.topic == c.Topic {
			fns = append(fns, s.fn)
		}
	}
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (f *feed) count(chairID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[chairID])
}
