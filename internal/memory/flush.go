package memory

import (
	"context"
	"sync"
	"time"
)

// FlushController moves overflowing short-term messages to the long-term
// blocks. Overflow selection and eviction happen synchronously in Check;
// distribution to blocks runs on a single worker goroutine, so at most one
// flush is in flight and spans reach each block in eviction order.
type FlushController struct {
	budget  Budget
	store   *ShortTermStore
	blocks  []*blockSlot // ascending priority
	timeout time.Duration
	warn    func(error)

	mu      sync.Mutex
	queue   [][]Message
	pending int           // queued + in flight
	idle    chan struct{} // closed when pending drops to 0
	wake    chan struct{}

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFlushController creates a flush controller; call Start before use
func NewFlushController(budget Budget, store *ShortTermStore, blocks []*blockSlot, ingestTimeout time.Duration, warn func(error)) *FlushController {
	if warn == nil {
		warn = func(error) {}
	}
	return &FlushController{
		budget:  budget,
		store:   store,
		blocks:  byPriority(blocks),
		timeout: ingestTimeout,
		warn:    warn,
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the distribution worker
func (f *FlushController) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.mu.Unlock()

	f.wg.Add(1)
	go f.loop()
}

// Stop waits for queued spans to be distributed, then stops the worker
func (f *FlushController) Stop() {
	_ = f.Wait(context.Background())

	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	f.mu.Unlock()

	f.wg.Wait()
}

// Check runs after every append. If the buffer is over its ceiling it
// evicts the overflow span and queues it for ingestion. Returns the evicted
// span, or nil when nothing was flushed.
func (f *FlushController) Check() []Message {
	ceiling := f.budget.ShortTermCeiling()
	if f.store.Cost() <= ceiling {
		return nil
	}

	span := f.store.PeekOverflow(ceiling, f.budget.TokenFlushSize)
	if len(span) == 0 {
		return nil
	}
	f.store.Evict(len(span))

	if len(f.blocks) > 0 {
		f.enqueue(span)
	}
	return span
}

func (f *FlushController) enqueue(span []Message) {
	f.mu.Lock()
	if f.pending == 0 {
		f.idle = make(chan struct{})
	}
	f.pending++
	f.queue = append(f.queue, span)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of spans queued or in flight
func (f *FlushController) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Wait blocks until every queued span has been distributed
func (f *FlushController) Wait(ctx context.Context) error {
	f.mu.Lock()
	if f.pending == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard drops queued spans and waits for the in-flight one to finish
func (f *FlushController) Discard(ctx context.Context) error {
	f.mu.Lock()
	dropped := len(f.queue)
	f.queue = nil
	f.pending -= dropped
	if f.pending == 0 && f.idle != nil {
		select {
		case <-f.idle:
		default:
			close(f.idle)
		}
	}
	f.mu.Unlock()

	return f.Wait(ctx)
}

func (f *FlushController) loop() {
	defer f.wg.Done()

	for {
		span, ok := f.next()
		if !ok {
			select {
			case <-f.wake:
				continue
			case <-f.stopCh:
				return
			}
		}

		f.distribute(span)
		f.done()
	}
}

func (f *FlushController) next() ([]Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, false
	}
	span := f.queue[0]
	f.queue = f.queue[1:]
	return span, true
}

func (f *FlushController) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending--
	if f.pending == 0 && f.idle != nil {
		close(f.idle)
	}
}

// distribute hands the span to every block in ascending priority order.
// A failing block never stops the others; the span is not re-queued.
func (f *FlushController) distribute(span []Message) {
	for _, slot := range f.blocks {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err := slot.Block.Ingest(ctx, cloneMessages(span))
		cancel()
		if err != nil {
			f.warn(serviceError("ingest", slot.Name, err))
		}
	}
}
