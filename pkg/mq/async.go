package mq

import (
	"errors"
	"log"
	"sync"
)

// ErrPublisherClosed is returned by Publish after Close has been called.
var ErrPublisherClosed = errors.New("event publisher is closed")

// AsyncPublisher wraps another EventPublisher with a bounded worker pool so
// callers on the request path never block on the broker. Submit order is
// preserved per worker but not across workers; callers that need strict
// ordering for a key should use a single worker.
type AsyncPublisher struct {
	inner EventPublisher
	jobs  chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsyncPublisher starts workerNum workers draining a queue of queueSize
// pending events.
func NewAsyncPublisher(inner EventPublisher, workerNum, queueSize int) *AsyncPublisher {
	p := &AsyncPublisher{
		inner: inner,
		jobs:  make(chan func(), queueSize),
	}
	for i := 0; i < workerNum; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for job := range p.jobs {
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("event worker %d panic: %v", workerID, r)
						}
					}()
					job()
				}()
			}
		}(i)
	}
	return p
}

// Publish enqueues the event. It blocks when the queue is full rather than
// dropping the event. Delivery failures are logged by the worker; callers
// that need the error must use the inner publisher directly.
func (p *AsyncPublisher) Publish(key string, payload any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	p.jobs <- func() {
		if err := p.inner.Publish(key, payload); err != nil {
			log.Printf("async publish for key %q failed: %v", key, err)
		}
	}
	return nil
}

// Close drains the queue, waits for the workers, then closes the inner
// publisher.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return p.inner.Close()
}
