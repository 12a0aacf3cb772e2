package consolidation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPauseControllerWaitForResumeReturnsImmediatelyWhenNotPaused(t *testing.T) {
	p := NewPauseController()
	done := make(chan struct{})
	go func() { p.WaitForResume(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForResume blocked while not paused")
	}
}

func TestPauseControllerWaitForResumeBlocksUntilResume(t *testing.T) {
	p := NewPauseController()
	p.Pause()
	require.True(t, p.IsPaused())

	var wg sync.WaitGroup
	released := make(chan struct{})
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer wg.Done()
			p.WaitForResume()
		}()
	}
	go func() { wg.Wait(); close(released) }()

	select {
	case <-released:
		t.Fatal("waiters released before Resume")
	case <-time.After(50 * time.Millisecond):
	}

	p.Resume()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("waiters not released after Resume")
	}
	assert.False(t, p.IsPaused())
}

func TestPauseControllerWaitForInFlightReturnsImmediatelyWhenZero(t *testing.T) {
	p := NewPauseController()
	done := make(chan struct{})
	go func() { p.WaitForInFlight(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForInFlight blocked with zero in-flight")
	}
}

func TestPauseControllerWaitForInFlightBlocksUntilDrained(t *testing.T) {
	p := NewPauseController()
	p.RegisterInFlight()
	p.RegisterInFlight()

	done := make(chan struct{})
	go func() { p.WaitForInFlight(); close(done) }()

	select {
	case <-done:
		t.Fatal("WaitForInFlight returned before drained")
	case <-time.After(50 * time.Millisecond):
	}

	p.CompleteInFlight()
	select {
	case <-done:
		t.Fatal("WaitForInFlight returned before fully drained")
	case <-time.After(50 * time.Millisecond):
	}

	p.CompleteInFlight()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForInFlight never returned after drain")
	}
}

func TestPauseControllerPauseDoesNotBlockAlreadyInFlightWork(t *testing.T) {
	p := NewPauseController()
	p.RegisterInFlight()
	p.Pause()

	// Already in-flight work finishes without consulting WaitForResume.
	p.CompleteInFlight()
	assert.Equal(t, 0, p.InFlightCount())
}
