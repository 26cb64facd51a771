package session

import (
	"errors"
	"sync"
)

// ErrQueueFull is returned when the queue would exceed its maximum size
var ErrQueueFull = errors.New("outbound queue full")

// OutboundMessage is one client->upstream message waiting for the link.
type OutboundMessage struct {
	MessageType int
	Data        []byte
}

// OutboundQueue holds messages in arrival order until the upstream link is
// ready. A maxSize of zero means unbounded.
type OutboundQueue struct {
	items     []OutboundMessage
	totalSize int
	maxSize   int
	mu        sync.Mutex
}

// NewOutboundQueue creates a queue with the specified maximum size in bytes
func NewOutboundQueue(maxSize int) *OutboundQueue {
	return &OutboundQueue{
		items:   make([]OutboundMessage, 0),
		maxSize: maxSize,
	}
}

// MaxSize returns the maximum queue size
func (q *OutboundQueue) MaxSize() int {
	return q.maxSize
}

// Append adds a message to the tail of the queue
// Returns ErrQueueFull if adding the message would exceed maxSize
func (q *OutboundQueue) Append(messageType int, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	newSize := q.totalSize + len(data)
	if q.maxSize > 0 && newSize > q.maxSize {
		return ErrQueueFull
	}

	q.items = append(q.items, OutboundMessage{MessageType: messageType, Data: data})
	q.totalSize = newSize
	return nil
}

// Drain returns every queued message in FIFO order and empties the queue
func (q *OutboundQueue) Drain() []OutboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	drained := q.items
	q.items = make([]OutboundMessage, 0)
	q.totalSize = 0
	return drained
}

// Clear empties the queue without returning data
func (q *OutboundQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = make([]OutboundMessage, 0)
	q.totalSize = 0
}

// Size returns the current total queued bytes
func (q *OutboundQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalSize
}

// Len returns the number of queued messages
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty returns true if nothing is queued
func (q *OutboundQueue) IsEmpty() bool {
	return q.Len() == 0
}
