package lifecycle

import "sync"

// eventQueue is the FIFO feeding the controller's event loop. Inbound
// message events are dropped once maxMessages of them are waiting; state
// events and commands are always queued.
type eventQueue struct {
	mu          sync.Mutex
	items       []envelope
	messages    int
	maxMessages int
	notify      chan struct{}
}

func newEventQueue(maxMessages int) *eventQueue {
	return &eventQueue{
		maxMessages: maxMessages,
		notify:      make(chan struct{}, 1),
	}
}

func droppable(evt Event) bool {
	switch evt.(type) {
	case MessageReceived, ButtonResponseReceived:
		return true
	}
	return false
}

// push appends env and reports whether it was queued.
func (q *eventQueue) push(env envelope) bool {
	q.mu.Lock()
	if droppable(env.event) {
		if q.messages >= q.maxMessages {
			q.mu.Unlock()
			return false
		}
		q.messages++
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *eventQueue) pop() (envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return envelope{}, false
	}
	env := q.items[0]
	q.items[0] = envelope{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	if droppable(env.event) {
		q.messages--
	}
	return env, true
}

// ready is signalled after a push.
func (q *eventQueue) ready() <-chan struct{} {
	return q.notify
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
