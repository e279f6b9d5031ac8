package bus

import "sync"

// messageQueue is a thread-safe FIFO for one subscription.
//
// Workers wait on signal, a buffered channel of size 1 that coalesces
// wakeups. Close closes signal so every waiting worker wakes; after Close,
// Enqueue refuses new messages but requeue still accepts redeliveries so
// in-flight failures drain.
type messageQueue struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
	signal   chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		messages: make([]Message, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends m. Returns false if the queue is closed.
func (q *messageQueue) Enqueue(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.messages = append(q.messages, m)
	q.notifyLocked()
	return true
}

// requeue appends a redelivery, ignoring the closed flag.
func (q *messageQueue) requeue(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, m)
	q.notifyLocked()
}

// TryDequeue removes the front message without blocking. When more
// messages remain it re-signals so another worker picks them up.
func (q *messageQueue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return Message{}, false
	}
	m := q.messages[0]
	q.messages[0] = Message{}
	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
		q.notifyLocked()
	}
	return m, true
}

// Wait returns the wakeup channel.
func (q *messageQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued messages.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Closed reports whether Close has been called.
func (q *messageQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting new messages and wakes all waiters.
func (q *messageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// notifyLocked signals availability. Must be called with q.mu held.
func (q *messageQueue) notifyLocked() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
