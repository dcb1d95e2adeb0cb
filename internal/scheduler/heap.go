package scheduler

import "container/heap"

// eventHeap implements container/heap.Interface for Event, sorted by
// TriggerAt (earliest first).
type eventHeap []Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].TriggerAt.Before(h[j].TriggerAt) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func heapPush(h *eventHeap, e Event) {
	heap.Push(h, e)
}

// heapPop removes and returns the earliest event. Panics on an empty heap.
func heapPop(h *eventHeap) Event {
	return heap.Pop(h).(Event)
}

// heapRemoveByHandle removes the event with the given handle. Returns false
// if no such event is pending.
func heapRemoveByHandle(h *eventHeap, handle string) bool {
	for i, e := range *h {
		if e.Handle == handle {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
