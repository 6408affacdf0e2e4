package agent

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/capsremap/pkg/logging"
	"github.com/offlinefirst/capsremap/pkg/remap"
	"github.com/offlinefirst/capsremap/pkg/session"
	"github.com/offlinefirst/capsremap/pkg/session/sessiontest"
)

type recordingApplier struct {
	mu         sync.Mutex
	calls      []remap.Kind
	inFlight   int
	overlapped bool
	hook       func(n int, payload remap.Payload) error
}

func (a *recordingApplier) Apply(_ context.Context, payload remap.Payload) error {
	a.mu.Lock()
	a.inFlight++
	if a.inFlight > 1 {
		a.overlapped = true
	}
	a.calls = append(a.calls, payload.Kind())
	n := len(a.calls)
	hook := a.hook
	a.mu.Unlock()

	var err error
	if hook != nil {
		err = hook(n, payload)
	}

	a.mu.Lock()
	a.inFlight--
	a.mu.Unlock()
	return err
}

func (a *recordingApplier) Calls() []remap.Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]remap.Kind(nil), a.calls...)
}

func (a *recordingApplier) Overlapped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.overlapped
}

type harness struct {
	listener *Listener
	source   *sessiontest.Source
	applier  *recordingApplier
	cancel   context.CancelFunc
	done     chan error
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		source:  sessiontest.New(),
		applier: &recordingApplier{},
		done:    make(chan error, 1),
	}
	opts := Options{
		Names:   session.DefaultNames(),
		Applier: h.applier,
		Source:  h.source,
		Logger:  logging.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	l, err := New(opts)
	require.NoError(t, err)
	h.listener = l
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.done <- h.listener.Start(ctx) }()

	select {
	case <-h.source.Started():
	case err := <-h.done:
		t.Fatalf("listener exited before running: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("source never started")
	}
}

func (h *harness) waitCalls(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.applier.Calls()) >= n }, 2*time.Second, 5*time.Millisecond,
		"expected %d applier calls, got %v", n, h.applier.Calls())
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
		return nil
	}
}

func TestNewValidation(t *testing.T) {
	base := func() Options {
		return Options{
			Names:   session.DefaultNames(),
			Applier: &recordingApplier{},
			Source:  sessiontest.New(),
			Logger:  logging.Discard(),
		}
	}
	cases := map[string]func(*Options){
		"missingApplier": func(o *Options) { o.Applier = nil },
		"missingSource":  func(o *Options) { o.Source = nil },
		"missingLogger":  func(o *Options) { o.Logger = nil },
		"noActivation":   func(o *Options) { o.Names.Activation = nil },
		"noDeactivation": func(o *Options) { o.Names.Deactivation = nil },
		"overlap": func(o *Options) {
			o.Names.Deactivation = append(o.Names.Deactivation, session.ScreenUnlocked)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := base()
			mutate(&opts)
			_, err := New(opts)
			assert.Error(t, err)
		})
	}

	l, err := New(base())
	require.NoError(t, err)
	assert.Equal(t, DefaultQueueSize, cap(l.queue))
}

func TestStartupAppliesOnceBeforeRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	assert.Equal(t, []remap.Kind{remap.KindApply}, h.applier.Calls())
	assert.Equal(t, session.DefaultNames().All(), h.source.Registered())

	regs := h.listener.Registrations()
	require.Len(t, regs, 4)
	assert.Equal(t, Registration{Name: session.ScreenUnlocked, Event: session.Activated}, regs[0])
	assert.Equal(t, Registration{Name: session.SessionResignedActive, Event: session.Deactivated}, regs[3])

	assert.ErrorIs(t, h.stop(t), context.Canceled)
	assert.Equal(t, []remap.Kind{remap.KindApply}, h.applier.Calls())
}

func TestTransitionsFollowDeliveryOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.applier.hook = func(n int, _ remap.Payload) error {
		// call 1 is the startup apply
		if n == 2 || n == 3 {
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	}
	h.start(t)

	require.Equal(t, 1, h.source.Deliver(session.ScreenUnlocked))
	require.Equal(t, 1, h.source.Deliver(session.ScreenLocked))
	require.Equal(t, 1, h.source.Deliver(session.SessionBecameActive))
	h.waitCalls(t, 4)

	require.ErrorIs(t, h.stop(t), context.Canceled)
	assert.Equal(t, []remap.Kind{remap.KindApply, remap.KindApply, remap.KindClear, remap.KindApply}, h.applier.Calls())
	assert.False(t, h.applier.Overlapped())
}

func TestTransitionCountsMatchDeliveries(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	names := session.DefaultNames().All()
	rng := rand.New(rand.NewSource(7))
	var want []remap.Kind
	want = append(want, remap.KindApply)
	activations, deactivations := 0, 0
	for i := 0; i < 40; i++ {
		name := names[rng.Intn(len(names))]
		h.source.Deliver(name)
		if event, _ := session.DefaultNames().Classify(name); event == session.Activated {
			activations++
			want = append(want, remap.KindApply)
		} else {
			deactivations++
			want = append(want, remap.KindClear)
		}
	}
	h.waitCalls(t, len(want))
	require.ErrorIs(t, h.stop(t), context.Canceled)

	assert.Equal(t, want, h.applier.Calls())
	stats := h.listener.Stats()
	assert.Equal(t, activations+1, stats.Applies)
	assert.Equal(t, deactivations, stats.Clears)
	assert.Zero(t, stats.Failures)
	assert.False(t, h.applier.Overlapped())
}

func TestFailedTransitionDoesNotStopListener(t *testing.T) {
	h := newHarness(t, nil)
	h.applier.hook = func(_ int, payload remap.Payload) error {
		if payload.Kind() == remap.KindClear {
			return &remap.ExitError{Code: 1, Output: "boom"}
		}
		return nil
	}
	h.start(t)

	h.source.Deliver(session.ScreenLocked)
	h.source.Deliver(session.ScreenUnlocked)
	h.waitCalls(t, 3)
	require.ErrorIs(t, h.stop(t), context.Canceled)

	assert.Equal(t, []remap.Kind{remap.KindApply, remap.KindClear, remap.KindApply}, h.applier.Calls())
	stats := h.listener.Stats()
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, session.ScreenUnlocked, stats.LastEvent)
}

func TestStartupFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.applier.hook = func(n int, _ remap.Payload) error {
		if n == 1 {
			return remap.ErrLaunchFailed
		}
		return nil
	}
	h.start(t)

	h.source.Deliver(session.SessionBecameActive)
	h.waitCalls(t, 2)
	require.ErrorIs(t, h.stop(t), context.Canceled)
	assert.Equal(t, 1, h.listener.Stats().Failures)
}

func TestUnregisteredNamesAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	assert.Zero(t, h.source.Deliver("com.example.somethingElse"))
	require.ErrorIs(t, h.stop(t), context.Canceled)
	assert.Equal(t, []remap.Kind{remap.KindApply}, h.applier.Calls())

	h.listener.handle(context.Background(), session.Notification{Name: "com.example.somethingElse"})
	assert.Equal(t, []remap.Kind{remap.KindApply}, h.applier.Calls())
	assert.Equal(t, 1, h.listener.Stats().Ignored)
}

func TestRegistrationFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	boom := errors.New("observer rejected")
	h.source.FailRegistration(session.ScreenLocked, boom)

	err := h.listener.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.applier.Calls())
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	assert.ErrorIs(t, h.listener.Start(context.Background()), ErrAlreadyStarted)
	require.ErrorIs(t, h.stop(t), context.Canceled)
}

func TestSourceFailureIsReturned(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	loopErr := errors.New("run loop exited")
	h.source.Stop(loopErr)
	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, loopErr)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not return after source failure")
	}
}

func TestClearOnExit(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ClearOnExit = true })
	h.start(t)

	h.source.Deliver(session.ScreenUnlocked)
	h.waitCalls(t, 2)
	require.ErrorIs(t, h.stop(t), context.Canceled)

	calls := h.applier.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, remap.KindClear, calls[2])
}

func TestShutdownAccountsForQueuedNotifications(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, nil)
	h.applier.hook = func(n int, _ remap.Payload) error {
		if n == 2 {
			<-release
		}
		return nil
	}
	h.start(t)

	const delivered = 5
	for i := 0; i < delivered; i++ {
		h.source.Deliver(session.ScreenLocked)
	}
	h.waitCalls(t, 2)
	require.Eventually(t, func() bool { return len(h.listener.queue) == delivered-1 }, 2*time.Second, 5*time.Millisecond)
	h.cancel()
	close(release)

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	stats := h.listener.Stats()
	assert.Equal(t, delivered, stats.Clears+stats.Dropped)
	assert.GreaterOrEqual(t, stats.Clears, 1)
	assert.False(t, h.applier.Overlapped())
}

func TestStatsUseInjectedClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	h := newHarness(t, func(o *Options) { o.Clock = clockwork.NewFakeClockAt(at) })
	h.start(t)
	require.ErrorIs(t, h.stop(t), context.Canceled)

	stats := h.listener.Stats()
	assert.Equal(t, at, stats.LastTransitionAt)
	assert.Equal(t, "startup", stats.LastEvent)
}

func TestShutdownWithFullQueueDoesNotHang(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(o *Options) { o.QueueSize = 1 })
	h.applier.hook = func(n int, _ remap.Payload) error {
		if n == 2 {
			<-release
		}
		return nil
	}
	h.start(t)

	// The first delivery blocks in the applier, the second fills the queue and
	// the third parks the source's loop inside the callback.
	const delivered = 3
	for i := 0; i < delivered; i++ {
		h.source.Deliver(session.ScreenLocked)
	}
	h.waitCalls(t, 2)
	require.Eventually(t, func() bool {
		return len(h.listener.queue) == 1 && h.source.Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)

	h.cancel()
	close(release)

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop with a full queue")
	}

	stats := h.listener.Stats()
	assert.Equal(t, delivered, stats.Clears+stats.Dropped)
	assert.False(t, h.applier.Overlapped())
}

func TestRepeatedShutdownWithFullQueue(t *testing.T) {
	for i := 0; i < 20; i++ {
		release := make(chan struct{})
		h := newHarness(t, func(o *Options) { o.QueueSize = 1 })
		h.applier.hook = func(n int, _ remap.Payload) error {
			if n == 2 {
				<-release
			}
			return nil
		}
		h.start(t)
		for j := 0; j < 3; j++ {
			h.source.Deliver(session.SessionResignedActive)
		}
		h.waitCalls(t, 2)
		h.cancel()
		close(release)

		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d: listener did not stop", i)
		}
	}
}
