package ticket

import (
	"log"
	"sync"
)

// Dispatcher runs side-effect jobs (ticket creation, notifications) on a
// bounded worker pool so ingest never blocks on an external service. A
// failed job is retried once, then dropped with a log line.
type Dispatcher struct {
	jobs    chan job
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped int
}

type job struct {
	name string
	run  func() error
}

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{jobs: make(chan job, queueSize)}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Submit queues a job. When the queue is full the job is dropped rather
// than blocking the caller.
func (d *Dispatcher) Submit(name string, run func() error) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Printf("Dispatcher closed, dropping job %q", name)
		return false
	}
	d.mu.Unlock()

	select {
	case d.jobs <- job{name: name, run: run}:
		return true
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		log.Printf("Dispatcher queue full, dropping job %q", name)
		return false
	}
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.jobs)
	d.wg.Wait()
}

// Dropped is the number of jobs rejected because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		if err := j.run(); err != nil {
			log.Printf("Job %q failed, retrying once: %v", j.name, err)
			if err := j.run(); err != nil {
				log.Printf("Job %q failed after retry: %v", j.name, err)
			}
		}
	}
}
