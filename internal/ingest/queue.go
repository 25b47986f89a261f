package ingest

import (
	"container/heap"
	"context"
	"sync"
)

// queueItem is one scheduled netstream attempt.
type queueItem struct {
	fileID   FileID
	attempt  int
	priority Priority
	seq      uint64
}

// itemHeap orders by priority, then by arrival.
type itemHeap []queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// jobQueue is a blocking priority queue shared by the workers.
type jobQueue struct {
	mu    sync.Mutex
	items itemHeap
	seq   uint64
	wake  chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{wake: make(chan struct{}, 1)}
}

func (q *jobQueue) push(id FileID, attempt int, p Priority) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, queueItem{fileID: id, attempt: attempt, priority: p, seq: q.seq})
	q.mu.Unlock()
	q.signal()
}

func (q *jobQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available or ctx is done.
func (q *jobQueue) pop(ctx context.Context) (queueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := heap.Pop(&q.items).(queueItem)
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return it, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return queueItem{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// remove drops every queued attempt for id and reports whether any was found.
func (q *jobQueue) remove(id FileID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, it := range q.items {
		if it.fileID != id {
			kept = append(kept, it)
		}
	}
	found := len(kept) != len(q.items)
	q.items = kept
	heap.Init(&q.items)
	return found
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
