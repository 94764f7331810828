package orchestration

import (
	"sync"
	"time"
)

const (
	DefaultDrainPeriod     = 33 * time.Millisecond
	DefaultDrainBatchBytes = 6000
)

// DrainScheduler periodically moves fragments from a ChunkQueue to the
// display on the foreground schedule. A tick drains one bounded batch and
// reschedules itself while keepGoing reports true and the run was not stopped.
type DrainScheduler struct {
	scheduler  Scheduler
	queue      *ChunkQueue
	period     time.Duration
	batchBytes int

	mu  sync.Mutex
	run uint64
}

func NewDrainScheduler(scheduler Scheduler, queue *ChunkQueue, period time.Duration, batchBytes int) *DrainScheduler {
	if period <= 0 {
		period = DefaultDrainPeriod
	}
	if batchBytes <= 0 {
		batchBytes = DefaultDrainBatchBytes
	}
	return &DrainScheduler{
		scheduler:  scheduler,
		queue:      queue,
		period:     period,
		batchBytes: batchBytes,
	}
}

// Start begins a new run, stopping any previous one.
func (d *DrainScheduler) Start(keepGoing func() bool, apply func([]string)) {
	d.mu.Lock()
	d.run++
	run := d.run
	d.mu.Unlock()

	d.schedule(run, keepGoing, apply)
}

func (d *DrainScheduler) schedule(run uint64, keepGoing func() bool, apply func([]string)) {
	d.scheduler.After(d.period, func() {
		d.tick(run, keepGoing, apply)
	})
}

func (d *DrainScheduler) tick(run uint64, keepGoing func() bool, apply func([]string)) {
	if !d.isCurrent(run) {
		return
	}

	if fragments := d.queue.DrainAvailable(d.batchBytes); len(fragments) > 0 {
		apply(fragments)
	}

	if keepGoing() && d.isCurrent(run) {
		d.schedule(run, keepGoing, apply)
	}
}

// Stop ends the current run. Ticks already scheduled do nothing.
func (d *DrainScheduler) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.run++
}

// Flush drains everything left in the queue in one go.
func (d *DrainScheduler) Flush(apply func([]string)) {
	if fragments := d.queue.DrainAvailable(0); len(fragments) > 0 {
		apply(fragments)
	}
}

func (d *DrainScheduler) isCurrent(run uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.run == run
}
