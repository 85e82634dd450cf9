package transport

import (
	"fmt"
	"sync"
)

// RingBuffer is a fixed capacity byte FIFO shared between a producer and the reader
type RingBuffer struct {
	mu       sync.Mutex
	buffer   []byte
	head     int
	tail     int
	size     int
	capacity int
	name     string
}

// NewRingBuffer creates a new ring buffer with specified capacity
func NewRingBuffer(capacity int, name string) *RingBuffer {
	return &RingBuffer{
		buffer:   make([]byte, capacity),
		capacity: capacity,
		name:     name,
	}
}

// AddData appends data. Returns false and stores nothing if it does not fit.
func (rb *RingBuffer) AddData(data []byte) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(data) > rb.capacity-rb.size {
		return false
	}
	for _, b := range data {
		rb.buffer[rb.head] = b
		rb.head = (rb.head + 1) % rb.capacity
	}
	rb.size += len(data)
	return true
}

// GetByte removes the oldest byte
func (rb *RingBuffer) GetByte() (byte, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return 0, false
	}
	b := rb.buffer[rb.tail]
	rb.tail = (rb.tail + 1) % rb.capacity
	rb.size--
	return b, true
}

// GetData fills data from the buffer, returning false if not enough is stored
func (rb *RingBuffer) GetData(data []byte) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size < len(data) {
		return false
	}
	for i := range data {
		data[i] = rb.buffer[rb.tail]
		rb.tail = (rb.tail + 1) % rb.capacity
	}
	rb.size -= len(data)
	return true
}

// Clear empties the ring buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	rb.head = 0
	rb.tail = 0
	rb.size = 0
	rb.mu.Unlock()
}

// FreeSpace returns available space in bytes
func (rb *RingBuffer) FreeSpace() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.capacity - rb.size
}

// DataSize returns amount of data in buffer
func (rb *RingBuffer) DataSize() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

func (rb *RingBuffer) String() string {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return fmt.Sprintf("RingBuffer[%s]: size=%d, capacity=%d, head=%d, tail=%d",
		rb.name, rb.size, rb.capacity, rb.head, rb.tail)
}
