package core

import (
	"container/heap"
	"errors"
	"sync"
)

// TaskPriority defines task urgency levels (lower value means higher priority).
type TaskPriority int

const (
	TaskPriorityHigh   TaskPriority = 0
	TaskPriorityMedium TaskPriority = 1
)

// PriorityFor ranks retries of a shard ahead of first attempts so a failing
// shard is retried before the queue drains.
func PriorityFor(task *Task) TaskPriority {
	if task.Attempt > 1 {
		return TaskPriorityHigh
	}
	return TaskPriorityMedium
}

// ErrQueueEmpty is returned when Pop() is called on an empty queue.
var ErrQueueEmpty = errors.New("priority queue is empty")

// TaskPriorityQueue is a thread-safe min-heap of shard tasks, popping
// highest-priority tasks first. Tasks with the same priority are served in
// FIFO order.
type TaskPriorityQueue interface {
	Push(task *Task, priority TaskPriority) error
	Pop() (*Task, error)
	Len() int
}

type heapTaskPriorityQueue struct {
	pq       priorityQueue
	mu       sync.RWMutex
	sequence uint64
}

func NewTaskPriorityQueue() TaskPriorityQueue {
	pq := make(priorityQueue, 0)
	heap.Init(&pq)
	return &heapTaskPriorityQueue{pq: pq}
}

func (q *heapTaskPriorityQueue) Push(task *Task, priority TaskPriority) error {
	if task == nil {
		return errors.New("cannot push nil task")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.pq, &item{task: task, priority: priority, sequence: q.sequence})
	q.sequence++
	return nil
}

func (q *heapTaskPriorityQueue) Pop() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pq.Len() == 0 {
		return nil, ErrQueueEmpty
	}
	return heap.Pop(&q.pq).(*item).task, nil
}

func (q *heapTaskPriorityQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.pq.Len()
}

type item struct {
	task     *Task
	priority TaskPriority
	sequence uint64 // Insertion order for FIFO within same priority
	index    int
}

// priorityQueue satisfies heap.Interface.
type priorityQueue []*item

func (pq priorityQueue) Len() int {
	return len(pq)
}

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].sequence < pq[j].sequence
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*pq)
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}
