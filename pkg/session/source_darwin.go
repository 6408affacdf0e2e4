//go:build darwin

package session

/*
#cgo darwin LDFLAGS: -framework CoreFoundation
#include <CoreFoundation/CoreFoundation.h>
#include <stdint.h>
#include <stdlib.h>

extern void goHandleNotification(uintptr_t handle, char *name);

static void notificationCallback(CFNotificationCenterRef center, void *observer, CFNotificationName name, const void *object, CFDictionaryRef userInfo) {
        char buf[512];
        if (name == NULL) {
                return;
        }
        if (!CFStringGetCString(name, buf, sizeof(buf), kCFStringEncodingUTF8)) {
                return;
        }
        goHandleNotification((uintptr_t)observer, buf);
}

static int addDistributedObserver(uintptr_t handle, const char *name) {
        CFStringRef cfName = CFStringCreateWithCString(kCFAllocatorDefault, name, kCFStringEncodingUTF8);
        if (cfName == NULL) {
                return -1;
        }
        CFNotificationCenterRef center = CFNotificationCenterGetDistributedCenter();
        if (center == NULL) {
                CFRelease(cfName);
                return -2;
        }
        CFNotificationCenterAddObserver(center, (const void *)handle, notificationCallback, cfName, NULL,
                                        CFNotificationSuspensionBehaviorDeliverImmediately);
        CFRelease(cfName);
        return 0;
}

static void removeDistributedObservers(uintptr_t handle) {
        CFNotificationCenterRemoveEveryObserver(CFNotificationCenterGetDistributedCenter(), (const void *)handle);
}

static void keepAliveCallback(CFRunLoopTimerRef timer, void *info) {
}

static CFRunLoopTimerRef addKeepAlive(CFRunLoopRef loop) {
        CFRunLoopTimerRef timer = CFRunLoopTimerCreate(kCFAllocatorDefault, CFAbsoluteTimeGetCurrent() + 1.0e10,
                                                       1.0e10, 0, 0, keepAliveCallback, NULL);
        CFRunLoopAddTimer(loop, timer, kCFRunLoopCommonModes);
        return timer;
}

static void removeKeepAlive(CFRunLoopTimerRef timer) {
        CFRunLoopTimerInvalidate(timer);
        CFRelease(timer);
}

static CFRunLoopRef currentRunLoop(void) {
        return CFRunLoopGetCurrent();
}

static void runCurrentRunLoop(void) {
        CFRunLoopRun();
}

static void stopRunLoop(CFRunLoopRef loop) {
        CFRunLoopStop(loop);
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/cgo"
	"sync"
	"time"
	"unsafe"

	"github.com/offlinefirst/capsremap/pkg/logging"
)

const nativeBackend = true

// distributedSource observes the system-wide distributed notification center.
// Deliveries arrive on the main thread's run loop, so Run must be called from
// the main goroutine locked to the main OS thread.
type distributedSource struct {
	mu       sync.Mutex
	handle   cgo.Handle
	handlers map[string][]func(Notification)
	running  bool
	now      func() time.Time
}

// NewSource returns the platform notification source.
func NewSource() Source {
	s := &distributedSource{
		handlers: make(map[string][]func(Notification)),
		now:      time.Now,
	}
	s.handle = cgo.NewHandle(s)
	return s
}

func (s *distributedSource) Register(name string, deliver func(Notification)) error {
	if name == "" {
		return fmt.Errorf("register observer: empty notification name")
	}
	if deliver == nil {
		return fmt.Errorf("register observer %q: nil callback", name)
	}

	s.mu.Lock()
	_, observed := s.handlers[name]
	s.handlers[name] = append(s.handlers[name], deliver)
	s.mu.Unlock()
	if observed {
		return nil
	}

	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	if rc := C.addDistributedObserver(C.uintptr_t(s.handle), cName); rc != 0 {
		s.mu.Lock()
		delete(s.handlers, name)
		s.mu.Unlock()
		return fmt.Errorf("register observer %q: distributed notification center unavailable (rc=%d)", name, int(rc))
	}
	return nil
}

func (s *distributedSource) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	loop := C.currentRunLoop()
	timer := C.addKeepAlive(loop)
	defer C.removeKeepAlive(timer)
	defer C.removeDistributedObservers(C.uintptr_t(s.handle))

	stopOnce := sync.Once{}
	stopLoop := func() {
		stopOnce.Do(func() {
			C.stopRunLoop(loop)
		})
	}

	done := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			stopLoop()
		case <-done:
		}
	}()

	C.runCurrentRunLoop()
	close(done)
	<-watcherDone
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("session run loop exited unexpectedly")
}

func (s *distributedSource) dispatch(name string) {
	s.mu.Lock()
	var handlers []func(Notification)
	handlers = append(handlers, s.handlers[name]...)
	s.mu.Unlock()
	if len(handlers) == 0 {
		return
	}
	n := Notification{
		Name:       name,
		ID:         logging.NewDeliveryID(),
		ReceivedAt: s.now().UTC(),
	}
	for _, deliver := range handlers {
		deliver(n)
	}
}

//export goHandleNotification
func goHandleNotification(handle C.uintptr_t, name *C.char) {
	source, ok := cgo.Handle(uintptr(handle)).Value().(*distributedSource)
	if !ok {
		return
	}
	source.dispatch(C.GoString(name))
}
