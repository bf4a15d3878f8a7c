package roleplay

import "sync"

// eventQueue delivers events to an observer on a single goroutine, in the
// order they were pushed. Pushing never blocks, so the engine can enqueue
// while holding its lock and the observer may call back into the engine.
type eventQueue struct {
	fn func(Event)

	mu     sync.Mutex
	items  []Event
	notify chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

func newEventQueue(fn func(Event)) *eventQueue {
	q := &eventQueue{
		fn:      fn,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) push(evs ...Event) {
	if q == nil || len(evs) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, evs...)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		q.mu.Unlock()

		for _, ev := range batch {
			q.fn(ev)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-q.notify:
		case <-q.done:
			q.mu.Lock()
			rest := q.items
			q.items = nil
			q.mu.Unlock()
			for _, ev := range rest {
				q.fn(ev)
			}
			return
		}
	}
}

// close delivers whatever is still queued and stops the goroutine. It must
// not be called from the observer itself.
func (q *eventQueue) close() {
	if q == nil {
		return
	}
	q.closeOnce.Do(func() { close(q.done) })
	<-q.stopped
}
