package journey

import (
	"sync"
	"time"
)

// Item is one scheduled step execution waiting in the processing queue.
type Item struct {
	JourneyID  string
	CustomerID string
	StepID     string
	NotBefore  time.Time
	EnqueuedAt time.Time
	Attempt    int
}

// Queue is the shared in-memory processing queue. FIFO among ready items;
// items whose NotBefore lies in the future are skipped until due, preserving
// the enqueue order of the rest.
type Queue struct {
	mu    sync.Mutex
	items []Item
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends an item to the back.
func (q *Queue) Push(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// PushFront inserts an item at the head. Used for fallback steps that must
// run before anything else.
func (q *Queue) PushFront(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Item{item}, q.items...)
}

// Pop removes and returns the first item due at or before now. Returns false
// when nothing is ready.
func (q *Queue) Pop(now time.Time) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if !item.NotBefore.After(now) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item, true
		}
	}
	return Item{}, false
}

// Len returns the number of queued items, ready or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DropJourney removes all items belonging to a journey. Used on cancel.
func (q *Queue) DropJourney(journeyID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	dropped := 0
	for _, item := range q.items {
		if item.JourneyID == journeyID {
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return dropped
}
