// Package timer schedules deadline callbacks: alert expiry in the
// forecaster and station inactivity in the gateway.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a callback due at a deadline
type Task struct {
	ID       string
	Deadline time.Time
	Callback func(id string)
	index    int
}

// taskHeap is a min-heap of tasks ordered by Deadline
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].Deadline.Before(h[j].Deadline)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// Scheduler runs callbacks at their deadlines on a fixed pool of workers.
// Scheduling an existing id replaces its deadline and callback.
type Scheduler struct {
	heap     taskHeap
	tasks    map[string]*Task
	mu       sync.Mutex
	wakeup   chan struct{}
	due      chan *Task
	workers  int
	workerWg sync.WaitGroup
	loopDone chan struct{}
	stopped  bool
	stopCh   chan struct{}
	fired    uint64
}

// NewScheduler creates a scheduler with the given number of workers
func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		heap:     make(taskHeap, 0),
		tasks:    make(map[string]*Task),
		wakeup:   make(chan struct{}, 1),
		due:      make(chan *Task, workers*4),
		workers:  workers,
		loopDone: make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start starts the scheduler loop and its workers
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.workerWg.Add(1)
		go s.worker()
	}
	go s.run()
}

// Stop stops the scheduler. Pending tasks are dropped; callbacks already
// running are waited for.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	<-s.loopDone
	close(s.due)
	s.workerWg.Wait()
}

// Schedule sets the deadline of id
func (s *Scheduler) Schedule(id string, deadline time.Time, callback func(id string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	if existing, ok := s.tasks[id]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.tasks, id)
	}

	task := &Task{ID: id, Deadline: deadline, Callback: callback}
	heap.Push(&s.heap, task)
	s.tasks[id] = task

	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a scheduled task. It reports whether the task was
// pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, task.index)
	delete(s.tasks, id)
	return true
}

// Deadline returns the pending deadline of id
func (s *Scheduler) Deadline(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return task.Deadline, true
}

func (s *Scheduler) run() {
	defer close(s.loopDone)

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		wait := 24 * time.Hour
		if s.heap.Len() > 0 {
			wait = time.Until(s.heap[0].Deadline)
			if wait <= 0 {
				task := heap.Pop(&s.heap).(*Task)
				delete(s.tasks, task.ID)
				s.fired++
				s.mu.Unlock()

				select {
				case s.due <- task:
				case <-s.stopCh:
					return
				}
				continue
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.workerWg.Done()

	for task := range s.due {
		task.Callback(task.ID)
	}
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ScheduledTasks: len(s.tasks),
		FiredTasks:     s.fired,
		Workers:        s.workers,
	}
}

// Stats contains statistics about the scheduler
type Stats struct {
	ScheduledTasks int
	FiredTasks     uint64
	Workers        int
}

var (
	ErrSchedulerStopped = &SchedulerError{"scheduler is stopped"}
)

// SchedulerError represents a scheduler error
type SchedulerError struct {
	msg string
}

func (e *SchedulerError) Error() string {
	return e.msg
}
