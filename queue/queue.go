package queue

import (
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/outofforest/mass"
)

const massSize = 64

// Item is the element of the queue.
type Item[T any] struct {
	Value T
	Next  *Item[T]
}

// New creates new queue.
func New[T any]() *Queue[T] {
	var head *Item[T]
	return &Queue[T]{
		massItem:       mass.New[Item[T]](massSize),
		tail:           &head,
		availableCount: lo.ToPtr[uint64](0),
	}
}

// Queue passes values from one producer to one consumer.
// The producer may run on a different goroutine than the consumer.
type Queue[T any] struct {
	massItem       *mass.Mass[Item[T]]
	tail           **Item[T]
	availableCount *uint64
}

// Push pushes new value into the queue.
func (q *Queue[T]) Push(v T) {
	item := q.massItem.New()
	item.Value = v

	*q.tail = item
	q.tail = &item.Next

	atomic.AddUint64(q.availableCount, 1)
}

// NewReader creates new queue reader.
func (q *Queue[T]) NewReader() *Reader[T] {
	return &Reader[T]{
		head:           q.tail,
		availableCount: q.availableCount,
	}
}

// Reader reads values from the queue.
type Reader[T any] struct {
	head           **Item[T]
	availableCount *uint64
	processedCount uint64
}

// Count returns the number of values available to read.
func (qr *Reader[T]) Count() uint64 {
	return atomic.LoadUint64(qr.availableCount) - qr.processedCount
}

// Read reads next value from the queue. False is returned if queue is empty.
func (qr *Reader[T]) Read() (T, bool) {
	var zero T
	if qr.Count() == 0 {
		return zero, false
	}

	h := *qr.head
	qr.head = &h.Next
	qr.processedCount++

	v := h.Value
	h.Value = zero
	return v, true
}
