package chat

import (
	"sync"
)

// Log is the append-only message list of one conversation. Messages are
// kept in an arena keyed by id; order holds the display order. Updates
// replace whole values, so snapshots handed out are never mutated.
//
// After Close every mutation is a silent no-op, which lets in-flight work
// finish against a conversation that has gone away.
type Log struct {
	mu     sync.RWMutex
	byID   map[string]Message
	order  []string
	closed bool

	onAppend []func(Message)
}

// NewLog creates an empty log. Hooks run after each successful append,
// outside the log's lock.
func NewLog(onAppend ...func(Message)) *Log {
	return &Log{
		byID:     make(map[string]Message),
		onAppend: onAppend,
	}
}

// Append adds m at the end of the log. It reports false when the log is closed.
func (l *Log) Append(m Message) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.byID[m.ID] = m
	l.order = append(l.order, m.ID)
	hooks := l.onAppend
	l.mu.Unlock()

	for _, h := range hooks {
		h(m)
	}
	return true
}

// Get returns the message with the given id.
func (l *Log) Get(id string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.byID[id]
	return m, ok
}

// Update replaces the message with id by fn's result. fn must keep the id
// and kind.
func (l *Log) Update(id string, fn func(Message) (Message, error)) (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Message{}, ErrClosed
	}
	cur, ok := l.byID[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	next, err := fn(cur)
	if err != nil {
		return cur, err
	}
	if next.ID != cur.ID || next.Kind != cur.Kind {
		return cur, ErrImmutableMessage
	}
	l.byID[id] = next
	return next, nil
}

// Resolve flips isResolved on an action-form message. It fails with
// ErrAlreadyResolved on the second call.
func (l *Log) Resolve(id string) (Message, error) {
	return l.Update(id, func(m Message) (Message, error) {
		if m.Kind != KindActionForm {
			return m, ErrNotActionForm
		}
		if m.IsResolved {
			return m, ErrAlreadyResolved
		}
		m.IsResolved = true
		return m, nil
	})
}

// Messages returns the log in display order.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Close stops the log from accepting changes.
func (l *Log) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// Closed reports whether Close was called.
func (l *Log) Closed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}
