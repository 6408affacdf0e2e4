// Package sessiontest provides an in-memory session.Source for tests.
package sessiontest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/offlinefirst/capsremap/pkg/logging"
	"github.com/offlinefirst/capsremap/pkg/session"
)

// Source records registrations and lets tests inject deliveries. Like the
// darwin run loop, callbacks run one at a time on the goroutine that called
// Run, and a blocked callback keeps Run from noticing cancellation.
type Source struct {
	mu         sync.Mutex
	handlers   map[string][]func(session.Notification)
	registered []string
	failures   map[string]error

	pending chan func()

	startOnce sync.Once
	started   chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}
	stopErr   error

	Now func() time.Time
}

// New returns an empty source.
func New() *Source {
	return &Source{
		handlers: make(map[string][]func(session.Notification)),
		failures: make(map[string]error),
		pending:  make(chan func(), 1024),
		started:  make(chan struct{}),
		stopped:  make(chan struct{}),
		Now:      time.Now,
	}
}

// FailRegistration makes Register return err for name.
func (s *Source) FailRegistration(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = err
}

// Register implements session.Source.
func (s *Source) Register(name string, deliver func(session.Notification)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[name]; err != nil {
		return fmt.Errorf("register observer %q: %w", name, err)
	}
	s.handlers[name] = append(s.handlers[name], deliver)
	s.registered = append(s.registered, name)
	return nil
}

// Registered lists names in registration order.
func (s *Source) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.registered...)
}

// Run implements session.Source. It invokes posted deliveries in order until
// ctx is done or Stop is called. Deliveries still pending at that point are lost.
func (s *Source) Run(ctx context.Context) error {
	s.startOnce.Do(func() { close(s.started) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopped:
			return s.stopErr
		case dispatch := <-s.pending:
			dispatch()
		}
	}
}

// Started is closed once Run has been entered.
func (s *Source) Started() <-chan struct{} {
	return s.started
}

// Stop makes Run return err.
func (s *Source) Stop(err error) {
	s.stopOnce.Do(func() {
		s.stopErr = err
		close(s.stopped)
	})
}

// Deliver posts name to the run loop and reports how many callbacks will see
// it. It returns without waiting for them. Names nobody registered are
// dropped, as the OS would do.
func (s *Source) Deliver(name string) int {
	s.mu.Lock()
	var handlers []func(session.Notification)
	handlers = append(handlers, s.handlers[name]...)
	s.mu.Unlock()
	if len(handlers) == 0 {
		return 0
	}

	n := session.Notification{Name: name, ID: logging.NewDeliveryID(), ReceivedAt: s.Now().UTC()}
	s.pending <- func() {
		for _, deliver := range handlers {
			deliver(n)
		}
	}
	return len(handlers)
}

// Pending reports deliveries posted but not yet taken by Run.
func (s *Source) Pending() int {
	return len(s.pending)
}
