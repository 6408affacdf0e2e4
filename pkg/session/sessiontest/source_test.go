package sessiontest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/capsremap/pkg/session"
)

func TestDeliverRunsCallbacksOnRunLoop(t *testing.T) {
	src := New()
	got := make(chan session.Notification, 2)
	require.NoError(t, src.Register(session.ScreenLocked, func(n session.Notification) { got <- n }))

	assert.Equal(t, 1, src.Deliver(session.ScreenLocked))
	assert.Zero(t, src.Deliver("com.example.unregistered"))
	assert.Equal(t, 1, src.Pending())
	select {
	case <-got:
		t.Fatal("callback ran before Run")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	select {
	case n := <-got:
		assert.Equal(t, session.ScreenLocked, n.Name)
		_, err := uuid.Parse(n.ID)
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBlockedCallbackHoldsRun(t *testing.T) {
	src := New()
	release := make(chan struct{})
	entered := make(chan struct{})
	require.NoError(t, src.Register(session.ScreenUnlocked, func(session.Notification) {
		close(entered)
		<-release
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	src.Deliver(session.ScreenUnlocked)
	<-entered
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a callback was blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the callback finished")
	}
}
