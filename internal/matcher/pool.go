package matcher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/logging"
)

type Job struct {
	Name    string
	Timeout time.Duration
	Do      func(ctx context.Context)
}

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
// Submit never blocks: a job that does not fit is dropped.
type Pool struct {
	jobs chan Job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	log logrus.FieldLogger
}

func NewPool(workers, queueSize int, logger logrus.FieldLogger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{jobs: make(chan Job, queueSize), log: logging.Component(logger, "match_pool")}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.log.WithFields(logrus.Fields{"workers": workers, "queue_size": queueSize}).Info("Match pool started")
	return p
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job Job) {
	ctx, cancel := context.Background(), func() {}
	if job.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{"worker": id, "job": job.Name, "panic": r}).Error("Job panicked")
		}
	}()
	job.Do(ctx)
}

// Submit enqueues job and reports whether it was accepted.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.WithField("job", job.Name).Warn("Match pool closed, dropping job")
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		p.log.WithField("job", job.Name).Warn("Match queue full, dropping job")
		return false
	}
}

func (p *Pool) QueueLen() int { return len(p.jobs) }

// Close stops accepting jobs, lets queued jobs finish and waits for the
// workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("Match pool stopped")
}
