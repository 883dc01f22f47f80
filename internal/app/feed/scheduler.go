package feed

import (
	"sync"
	"time"
)

// Scheduler holds named one-shot timers. Re-arming a name replaces the
// previous timer, and every arm gets a fresh token so a fire that raced with
// Cancel or a re-arm can be recognised with Claim and ignored.
type Scheduler struct {
	fire func(name string, token uint64)

	mu      sync.Mutex
	timers  map[string]scheduled
	next    uint64
	stopped bool
}

type scheduled struct {
	timer *time.Timer
	token uint64
}

// NewScheduler calls fire on its own goroutine whenever a timer elapses.
func NewScheduler(fire func(name string, token uint64)) *Scheduler {
	return &Scheduler{fire: fire, timers: map[string]scheduled{}}
}

func (s *Scheduler) After(name string, d time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}
	if prev, ok := s.timers[name]; ok {
		prev.timer.Stop()
	}
	s.next++
	token := s.next
	s.timers[name] = scheduled{
		token: token,
		timer: time.AfterFunc(d, func() { s.fire(name, token) }),
	}
	return token
}

func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.timers[name]; ok {
		prev.timer.Stop()
		delete(s.timers, name)
	}
}

// Claim reports whether token is the live arm of name and, if so, retires it.
func (s *Scheduler) Claim(name string, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.timers[name]
	if !ok || current.token != token || s.stopped {
		return false
	}
	delete(s.timers, name)
	return true
}

func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// StopAll cancels every timer and refuses new ones.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for name, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, name)
	}
}
