package dontpanic

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTry(t *testing.T) {
	require.True(t, Try(func() {}))
	require.False(t, Try(func() { panic(errors.New("boom")) }))
	require.False(t, Try(func() { panic("not an error") }))
}

func TestForever(t *testing.T) {
	var runs int32

	forever := NewForever(time.Millisecond)
	forever.Go(func() {
		if atomic.AddInt32(&runs, 1) == 1 {
			panic("first run fails")
		}
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 3
	}, 5*time.Second, time.Millisecond)

	forever.Cancel()
	forever.Cancel()
}
