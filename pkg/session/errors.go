package session

import "errors"

// ErrUnsupportedPlatform indicates no session notification backend exists for this OS.
var ErrUnsupportedPlatform = errors.New("session notifications are only available on macOS")

// ErrAlreadyRunning is returned when Run is called on a source that is already running.
var ErrAlreadyRunning = errors.New("session source already running")
