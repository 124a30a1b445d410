package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrMailboxClosed = errors.New("scheduler mailbox closed")

type msgKind int

const (
	msgIndexChanged msgKind = iota + 1
	msgTimerFired
)

type message struct {
	kind msgKind
	// timer fired only
	at  time.Time
	tok *token
}

// mailbox is an unbounded, ordered multi-producer single-consumer queue.
// Producers never block.
type mailbox struct {
	mu     sync.Mutex
	queue  []message
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(msg message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

// ready is signalled at least once after every post.
func (m *mailbox) ready() <-chan struct{} { return m.signal }

// drain takes every queued message in arrival order.
func (m *mailbox) drain() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
}

// token is the single-use claim shared by one armed timer and the scheduler.
// Exactly one of the fire path and the cancel path wins it.
type token struct {
	id      uint64
	claimed atomic.Bool
}

func (t *token) claim() bool { return t.claimed.CompareAndSwap(false, true) }
