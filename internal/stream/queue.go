package stream

import "sync"

// serialQueue executes tasks strictly one at a time in submission order. A
// failing task is logged and swallowed so the chain keeps moving; ordering is
// what protects the remote messages from stale edits landing late.
type serialQueue struct {
	logf func(format string, args ...any)

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []queueTask
	running bool
}

type queueTask struct {
	name string
	fn   func() error
}

func newSerialQueue(logf func(format string, args ...any)) *serialQueue {
	q := &serialQueue{logf: logf}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue appends fn to the chain and starts the worker if it is idle.
func (q *serialQueue) enqueue(name string, fn func() error) {
	q.mu.Lock()
	q.tasks = append(q.tasks, queueTask{name: name, fn: fn})
	if !q.running {
		q.running = true
		go q.run()
	}
	q.mu.Unlock()
}

func (q *serialQueue) run() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		if err := task.fn(); err != nil && q.logf != nil {
			q.logf("stream: %s delivery failed: %v", task.name, err)
		}
	}
}

// wait blocks until every task submitted before the call has settled.
func (q *serialQueue) wait() {
	q.mu.Lock()
	for q.running || len(q.tasks) > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
}
