package consolidation

import "sync"

// PauseController is the process-wide producer/consumer coordination
// object between ingestion and the consolidator (spec.md §4.5). All
// operations are safe under concurrent access; wait_for_resume wakes
// every waiter on every resume(), and wait_for_in_flight wakes every
// waiter exactly when the in-flight counter reaches zero.
type PauseController struct {
	mu        sync.Mutex
	paused    bool
	inFlight  int
	resumeCh  chan struct{}
	drainedCh chan struct{}
}

// NewPauseController returns a controller in the resumed, idle state.
func NewPauseController() *PauseController {
	return &PauseController{
		resumeCh:  make(chan struct{}),
		drainedCh: make(chan struct{}),
	}
}

// IsPaused returns a snapshot of the paused flag.
func (p *PauseController) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Pause sets the paused flag. It does not affect work already counted
// in-flight: that work is allowed to finish.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume clears the paused flag and releases every waiter blocked in
// WaitForResume.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	close(p.resumeCh)
	p.resumeCh = make(chan struct{})
}

// WaitForResume returns immediately if not paused, else blocks until the
// next Resume.
func (p *PauseController) WaitForResume() {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return
	}
	ch := p.resumeCh
	p.mu.Unlock()
	<-ch
}

// RegisterInFlight increments the in-flight counter. Callers must do
// this before their first suspending write.
func (p *PauseController) RegisterInFlight() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight++
}

// CompleteInFlight decrements the in-flight counter, waking every
// WaitForInFlight waiter if it reaches zero.
func (p *PauseController) CompleteInFlight() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight > 0 {
		p.inFlight--
	}
	if p.inFlight == 0 {
		close(p.drainedCh)
		p.drainedCh = make(chan struct{})
	}
}

// WaitForInFlight returns immediately if the counter is zero, else
// blocks until it transitions to zero.
func (p *PauseController) WaitForInFlight() {
	p.mu.Lock()
	if p.inFlight == 0 {
		p.mu.Unlock()
		return
	}
	ch := p.drainedCh
	p.mu.Unlock()
	<-ch
}

// InFlightCount reports the current in-flight counter, for diagnostics.
func (p *PauseController) InFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}
