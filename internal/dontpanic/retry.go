// Package dontpanic runs background work so that a panic is reported instead
// of taking the whole service down.
package dontpanic

import (
	"fmt"
	"sync"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"gitlab.com/packrat/packrat/internal/log"
)

// Try runs fn and recovers from a panic. A recovered panic is sent to Sentry
// and logged as an error. Returns `true` if fn did not panic.
func Try(fn func()) bool { return catchAndLog(fn) }

// Go runs fn in a goroutine through Try.
func Go(fn func()) { go Try(fn) }

func catchAndLog(fn func()) bool {
	var recovered interface{}

	func() {
		defer func() {
			recovered = recover()
		}()
		fn()
	}()

	if recovered == nil {
		return true
	}

	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("%v", recovered)
	}

	entry := log.Default().WithError(err)
	if id := sentry.CaptureException(err); id != nil {
		entry = entry.WithField("sentry_id", *id)
	}
	entry.Error("dontpanic: recovered from panic")

	return false
}

// Forever runs a function over and over until cancelled.
type Forever struct {
	interval time.Duration

	cancelOnce sync.Once
	cancelCh   chan struct{}
	doneCh     chan struct{}
}

// NewForever creates a new Forever which waits interval between two runs.
func NewForever(interval time.Duration) *Forever {
	return &Forever{
		interval: interval,
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Go keeps running fn in a goroutine, recovering from panics, until Cancel is
// called.
func (f *Forever) Go(fn func()) {
	go func() {
		defer close(f.doneCh)

		for {
			select {
			case <-f.cancelCh:
				return
			default:
			}

			Try(fn)

			select {
			case <-f.cancelCh:
				return
			case <-time.After(f.interval):
			}
		}
	}()
}

// Cancel stops the loop and waits for a running fn to return.
func (f *Forever) Cancel() {
	f.cancelOnce.Do(func() {
		close(f.cancelCh)
		<-f.doneCh
	})
}
