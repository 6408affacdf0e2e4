// Package session observes OS session lock/unlock transitions. On macOS the
// source subscribes to the system-wide distributed notification center; other
// platforms get a stub that refuses to register.
package session
