// Package agent bridges session notifications to the remap applier. Every
// delivery goes through one FIFO queue drained by a single consumer, so applier
// calls never overlap and run in delivery order.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/offlinefirst/capsremap/pkg/logging"
	"github.com/offlinefirst/capsremap/pkg/remap"
	"github.com/offlinefirst/capsremap/pkg/session"
)

// DefaultQueueSize bounds the backlog before deliveries block the source.
const DefaultQueueSize = 64

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("listener already started")

// Applier stores a remap payload and blocks until the device confirms or fails.
type Applier interface {
	Apply(ctx context.Context, payload remap.Payload) error
}

// Options configure the listener.
type Options struct {
	Names       session.Names
	Applier     Applier
	Source      session.Source
	Logger      *slog.Logger
	Clock       clockwork.Clock
	QueueSize   int
	ClearOnExit bool
}

// Registration binds a notification name to the event it triggers.
type Registration struct {
	Name  string
	Event session.Event
}

// Stats is a snapshot of listener activity.
type Stats struct {
	Applies          int
	Clears           int
	Failures         int
	Ignored          int
	Dropped          int
	LastEvent        string
	LastTransitionAt time.Time
}

// Listener owns the observer registrations and the serial consumer.
type Listener struct {
	names       session.Names
	applier     Applier
	source      session.Source
	logger      *slog.Logger
	clock       clockwork.Clock
	clearOnExit bool

	queue    chan session.Notification
	stopping chan struct{}

	mu            sync.Mutex
	started       bool
	registrations []Registration
	stats         Stats
}

// New validates options and constructs a listener.
func New(opts Options) (*Listener, error) {
	if opts.Applier == nil {
		return nil, errors.New("applier must be provided")
	}
	if opts.Source == nil {
		return nil, errors.New("session source must be provided")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger must be provided")
	}
	if len(opts.Names.Activation) == 0 || len(opts.Names.Deactivation) == 0 {
		return nil, errors.New("activation and deactivation names must not be empty")
	}
	for _, name := range opts.Names.Deactivation {
		if event, ok := opts.Names.Classify(name); ok && event == session.Activated {
			return nil, fmt.Errorf("notification %q is both an activation and a deactivation", name)
		}
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Listener{
		names:       opts.Names,
		applier:     opts.Applier,
		source:      opts.Source,
		logger:      opts.Logger.With("component", "listener"),
		clock:       clock,
		clearOnExit: opts.ClearOnExit,
		queue:       make(chan session.Notification, size),
		stopping:    make(chan struct{}),
	}, nil
}

// Start registers observers, applies the remap once, and processes
// notifications until ctx is done or the source fails. The source's event loop
// runs on the calling goroutine.
func (l *Listener) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	if err := l.register(); err != nil {
		return fmt.Errorf("register session observers: %w", err)
	}

	// Handlers are detached from shutdown cancellation; the applier timeout
	// still bounds every call.
	work := context.WithoutCancel(ctx)

	l.logger.InfoContext(ctx, "applying remap at startup, assuming an unlocked session")
	_ = l.transition(work, "startup", remap.Apply)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		l.consume(work)
	}()

	runErr := l.source.Run(ctx)
	close(l.stopping)
	<-consumerDone

	if dropped := l.drain(); dropped > 0 {
		l.logger.WarnContext(ctx, "dropped queued notifications at shutdown", "count", dropped)
	}
	if l.clearOnExit {
		_ = l.transition(work, "shutdown", remap.Clear)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return fmt.Errorf("session source: %w", runErr)
	}
	return runErr
}

// Registrations lists the observer table in registration order.
func (l *Listener) Registrations() []Registration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Registration(nil), l.registrations...)
}

// Stats returns a snapshot of listener counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Listener) register() error {
	table := make([]Registration, 0, len(l.names.Activation)+len(l.names.Deactivation))
	for _, name := range l.names.Activation {
		table = append(table, Registration{Name: name, Event: session.Activated})
	}
	for _, name := range l.names.Deactivation {
		table = append(table, Registration{Name: name, Event: session.Deactivated})
	}
	for _, reg := range table {
		if err := l.source.Register(reg.Name, l.enqueue); err != nil {
			return err
		}
		l.logger.Debug("observer registered", "notification", reg.Name, "event", reg.Event.String())
	}
	l.mu.Lock()
	l.registrations = table
	l.mu.Unlock()
	return nil
}

// enqueue runs on the source's thread. It blocks while the queue is full so
// deliveries are never dropped or reordered while the listener runs.
func (l *Listener) enqueue(n session.Notification) {
	select {
	case l.queue <- n:
	case <-l.stopping:
		l.mu.Lock()
		l.stats.Dropped++
		l.mu.Unlock()
	}
}

// consume drains until the source has returned, so a delivery blocked in
// enqueue always gets space and the source's loop can exit.
func (l *Listener) consume(ctx context.Context) {
	for {
		select {
		case <-l.stopping:
			return
		case n := <-l.queue:
			l.handle(ctx, n)
		}
	}
}

func (l *Listener) drain() int {
	dropped := 0
	for {
		select {
		case <-l.queue:
			dropped++
		default:
			l.mu.Lock()
			l.stats.Dropped += dropped
			l.mu.Unlock()
			return dropped
		}
	}
}

func (l *Listener) handle(ctx context.Context, n session.Notification) {
	if n.ID != "" {
		ctx = logging.WithDeliveryID(ctx, n.ID)
	}
	event, ok := l.names.Classify(n.Name)
	if !ok {
		l.mu.Lock()
		l.stats.Ignored++
		l.mu.Unlock()
		l.logger.DebugContext(ctx, "ignoring unregistered notification", "notification", n.Name)
		return
	}

	payload := remap.Apply
	if event == session.Deactivated {
		payload = remap.Clear
	}
	l.logger.DebugContext(ctx, "session transition", "notification", n.Name, "event", event.String())
	_ = l.transition(ctx, n.Name, payload)
}

// transition calls the applier once. Failures are logged and counted; they
// never stop the listener.
func (l *Listener) transition(ctx context.Context, trigger string, payload remap.Payload) error {
	started := l.clock.Now()
	err := l.applier.Apply(ctx, payload)
	elapsed := l.clock.Since(started)

	l.mu.Lock()
	switch payload.Kind() {
	case remap.KindApply:
		l.stats.Applies++
	case remap.KindClear:
		l.stats.Clears++
	}
	if err != nil {
		l.stats.Failures++
	}
	l.stats.LastEvent = trigger
	l.stats.LastTransitionAt = started
	l.mu.Unlock()

	if err != nil {
		l.logger.ErrorContext(ctx, "remap transition failed",
			"trigger", trigger,
			"payload", payload.Kind(),
			"error_class", remap.Class(err),
			"error", err,
		)
		return err
	}
	l.logger.InfoContext(ctx, "remap transition applied", "trigger", trigger, "payload", payload.Kind(), "duration", elapsed)
	return nil
}
