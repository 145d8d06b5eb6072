package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
)

// DefaultDeliverTimeout bounds a single sink delivery.
const DefaultDeliverTimeout = 5 * time.Second

// Options configures a Publisher.
type Options struct {
	ProjectID    string
	DeploymentID string
	// QueueSize is the initial capacity of the pending queue; it grows as needed.
	QueueSize      int
	DeliverTimeout time.Duration
	// Logger receives the local echo of every message and delivery failures.
	Logger *slog.Logger
	Now    func() time.Time
}

// Publisher tags messages with the job identifiers and hands them to a Sink
// from a single writer goroutine, strictly in Publish order.
type Publisher struct {
	sink   Sink
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	queue   []LogEvent
	waiters []chan struct{}
	closed  bool
	started bool

	outstanding atomic.Int64
	published   atomic.Int64
	delivered   atomic.Int64
	failed      atomic.Int64
	abandoned   atomic.Int64

	// runCtx bounds every delivery; Close cancels it.
	runCtx    context.Context
	runCancel context.CancelFunc

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewPublisher creates a publisher for sink. Events published before Connect
// are queued and delivered once the writer starts.
func NewPublisher(sink Sink, opts Options) *Publisher {
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = DefaultDeliverTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Publisher{
		runCtx:    runCtx,
		runCancel: runCancel,
		sink:      sink,
		opts: opts,
		logger: logger.With(
			logfields.ProjectID(opts.ProjectID),
			logfields.DeploymentID(opts.DeploymentID),
		),
		queue: make([]LogEvent, 0, max(opts.QueueSize, 0)),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Connect connects the sink when it needs a connection and starts the writer.
func (p *Publisher) Connect(ctx context.Context) error {
	if c, ok := p.sink.(Connector); ok {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("connect telemetry sink: %w", err)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return nil
	}
	p.started = true
	go p.run()
	p.signal()
	return nil
}

// Publish enqueues message and returns immediately. The message is echoed to
// the local log. Publishing after Close drops the message.
func (p *Publisher) Publish(message string) {
	p.logger.Info(message)

	ev := NewLogEvent(p.opts.ProjectID, p.opts.DeploymentID, message, p.opts.Now())

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Debug("Publisher closed; dropping event")
		return
	}
	p.queue = append(p.queue, ev)
	p.outstanding.Add(1)
	p.published.Add(1)
	p.mu.Unlock()

	p.signal()
}

// Publishf formats and publishes a message.
func (p *Publisher) Publishf(format string, args ...any) {
	p.Publish(fmt.Sprintf(format, args...))
}

func (p *Publisher) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			batch := p.queue
			p.queue = make([]LogEvent, 0, cap(batch))
			p.mu.Unlock()

			for i, ev := range batch {
				select {
				case <-p.stop:
					p.abandon(len(batch) - i)
					return
				default:
				}
				p.deliver(ev)
			}
		}
	}
}

func (p *Publisher) deliver(ev LogEvent) {
	ctx, cancel := context.WithTimeout(p.runCtx, p.opts.DeliverTimeout)
	defer cancel()

	if err := p.sink.Deliver(ctx, ev); err != nil {
		p.failed.Add(1)
		p.logger.Warn("Failed to deliver log event", "event_id", ev.ID, logfields.Error(err))
	} else {
		p.delivered.Add(1)
	}
	p.settle(1)
}

// abandon gives up on n events the writer will never hand to the sink.
func (p *Publisher) abandon(n int) {
	if n <= 0 {
		return
	}
	p.abandoned.Add(int64(n))
	p.logger.Warn("Abandoned undelivered log events", "abandoned", n)
	p.settle(n)
}

func (p *Publisher) settle(n int) {
	if p.outstanding.Add(-int64(n)) == 0 {
		p.mu.Lock()
		if p.outstanding.Load() == 0 {
			for _, w := range p.waiters {
				close(w)
			}
			p.waiters = nil
		}
		p.mu.Unlock()
	}
}

// Drain blocks until every published event has been handed to the sink
// (delivered or failed) or timeout elapses.
func (p *Publisher) Drain(timeout time.Duration) error {
	p.mu.Lock()
	if p.outstanding.Load() == 0 {
		p.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w:
		return nil
	case <-timer.C:
		remaining := p.outstanding.Load()
		p.logger.Warn("Telemetry drain timed out", "abandoned", remaining)
		return fmt.Errorf("%w: %d event(s) outstanding", ErrDrainTimeout, remaining)
	}
}

// Close stops the writer and closes the sink. The delivery in flight is
// canceled and events still queued are abandoned, so Close returns within
// one DeliverTimeout even when the sink hangs. Call Drain first to give
// queued events a bounded chance to go out. Events published afterwards are
// dropped.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	close(p.stop)
	p.runCancel()
	if started {
		<-p.done
	}

	p.mu.Lock()
	pending := len(p.queue)
	p.queue = nil
	p.mu.Unlock()
	p.abandon(pending)

	return p.sink.Close()
}

// Stats reports counters since creation.
type Stats struct {
	Published   int64
	Delivered   int64
	Failed      int64
	Abandoned   int64
	Outstanding int64
}

// Stats returns the publisher counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published:   p.published.Load(),
		Delivered:   p.delivered.Load(),
		Failed:      p.failed.Load(),
		Abandoned:   p.abandoned.Load(),
		Outstanding: p.outstanding.Load(),
	}
}
