package core

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func createTestTask(shard, attempt int) *Task {
	return &Task{
		JobID:   uuid.New(),
		Type:    TaskTypeMap,
		Shard:   shard,
		Attempt: attempt,
	}
}

func TestTaskPriorityQueue_Push(t *testing.T) {
	tests := []struct {
		name     string
		task     *Task
		priority TaskPriority
		wantErr  bool
	}{
		{
			name:     "push valid task with high priority",
			task:     createTestTask(0, 2),
			priority: TaskPriorityHigh,
		},
		{
			name:     "push valid task with medium priority",
			task:     createTestTask(1, 1),
			priority: TaskPriorityMedium,
		},
		{
			name:     "push nil task returns error",
			task:     nil,
			priority: TaskPriorityHigh,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewTaskPriorityQueue()
			err := q.Push(tt.task, tt.priority)
			if (err != nil) != tt.wantErr {
				t.Errorf("Push() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && q.Len() != 1 {
				t.Errorf("expected queue length 1 after push, got %d", q.Len())
			}
		})
	}
}

func TestTaskPriorityQueue_PopEmpty(t *testing.T) {
	q := NewTaskPriorityQueue()
	task, err := q.Pop()
	if err != ErrQueueEmpty {
		t.Errorf("expected ErrQueueEmpty, got %v", err)
	}
	if task != nil {
		t.Errorf("expected nil task, got %v", task)
	}
}

func TestTaskPriorityQueue_RetriesJumpTheQueue(t *testing.T) {
	q := NewTaskPriorityQueue()

	fresh := []*Task{createTestTask(0, 1), createTestTask(1, 1), createTestTask(2, 1)}
	for _, task := range fresh {
		_ = q.Push(task, PriorityFor(task))
	}
	retry := createTestTask(7, 2)
	_ = q.Push(retry, PriorityFor(retry))

	expectedOrder := []int{7, 0, 1, 2}
	for i, shard := range expectedOrder {
		task, err := q.Pop()
		if err != nil {
			t.Fatalf("unexpected error at position %d: %v", i, err)
		}
		if task.Shard != shard {
			t.Errorf("at position %d: expected shard %d, got %d", i, shard, task.Shard)
		}
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got length %d", q.Len())
	}
}

func TestTaskPriorityQueue_MixedPriorityFIFO(t *testing.T) {
	q := NewTaskPriorityQueue()

	_ = q.Push(createTestTask(3, 1), TaskPriorityMedium)
	_ = q.Push(createTestTask(1, 1), TaskPriorityHigh)
	_ = q.Push(createTestTask(4, 1), TaskPriorityMedium)
	_ = q.Push(createTestTask(2, 1), TaskPriorityHigh)
	_ = q.Push(createTestTask(5, 1), TaskPriorityMedium)

	for want := 1; want <= 5; want++ {
		task, err := q.Pop()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if task.Shard != want {
			t.Errorf("expected shard %d, got %d", want, task.Shard)
		}
	}
}

func TestTaskPriorityQueue_Concurrent(t *testing.T) {
	q := NewTaskPriorityQueue()
	var wg sync.WaitGroup
	numGoroutines := 50
	numTasksPerGoroutine := 10

	for i := range numGoroutines {
		wg.Go(func() {
			for j := range numTasksPerGoroutine {
				_ = q.Push(createTestTask(i*numTasksPerGoroutine+j, 1), TaskPriority(j%2))
			}
		})
	}
	wg.Wait()

	expectedLen := numGoroutines * numTasksPerGoroutine
	if q.Len() != expectedLen {
		t.Fatalf("expected queue length %d, got %d", expectedLen, q.Len())
	}

	seen := make(chan int, expectedLen)
	for range 10 {
		wg.Go(func() {
			for {
				task, err := q.Pop()
				if err == ErrQueueEmpty {
					return
				}
				seen <- task.Shard
			}
		})
	}
	wg.Wait()
	close(seen)

	shards := make(map[int]bool)
	for s := range seen {
		if shards[s] {
			t.Errorf("shard %d popped twice", s)
		}
		shards[s] = true
	}
	if len(shards) != expectedLen {
		t.Errorf("expected %d distinct shards, got %d", expectedLen, len(shards))
	}
}
