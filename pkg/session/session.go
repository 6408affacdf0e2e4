package session

import (
	"context"
	"fmt"
	"time"
)

// Event is the logical session transition a notification stands for.
type Event int

const (
	// Activated means the session became active or the screen unlocked.
	Activated Event = iota + 1
	// Deactivated means the session resigned active or the screen locked.
	Deactivated
)

func (e Event) String() string {
	switch e {
	case Activated:
		return "activated"
	case Deactivated:
		return "deactivated"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Notification is one delivery from the notification subsystem.
type Notification struct {
	Name       string
	ID         string
	ReceivedAt time.Time
}

// Source delivers named notifications. Register binds a callback to a name for
// the life of the source; Run processes deliveries on the calling thread until
// ctx is done or the source fails. Callbacks are invoked one at a time.
type Source interface {
	Register(name string, deliver func(Notification)) error
	Run(ctx context.Context) error
}

// Default notification names.
const (
	ScreenUnlocked        = "com.apple.screenIsUnlocked"
	SessionBecameActive   = "com.apple.sessionDidBecomeActive"
	ScreenLocked          = "com.apple.screenIsLocked"
	SessionResignedActive = "com.apple.sessionDidResignActive"
)

// Names holds the fixed activation and deactivation sets.
type Names struct {
	Activation   []string
	Deactivation []string
}

// DefaultNames returns the stock macOS session notification names.
func DefaultNames() Names {
	return Names{
		Activation:   []string{ScreenUnlocked, SessionBecameActive},
		Deactivation: []string{ScreenLocked, SessionResignedActive},
	}
}

// Classify maps a notification name to its event.
func (n Names) Classify(name string) (Event, bool) {
	for _, candidate := range n.Activation {
		if candidate == name {
			return Activated, true
		}
	}
	for _, candidate := range n.Deactivation {
		if candidate == name {
			return Deactivated, true
		}
	}
	return 0, false
}

// All returns activation names followed by deactivation names.
func (n Names) All() []string {
	all := make([]string, 0, len(n.Activation)+len(n.Deactivation))
	all = append(all, n.Activation...)
	return append(all, n.Deactivation...)
}
