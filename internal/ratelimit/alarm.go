package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// AlarmScheduler keeps at most one pending alarm per key and invokes a
// callback with the key when it goes off. Callbacks run on their own
// goroutine, never on the goroutine that armed the alarm.
type AlarmScheduler struct {
	clock clockwork.Clock
	fire  func(key string)

	mu     sync.Mutex
	alarms map[string]*alarm
	closed bool
}

type alarm struct {
	at    time.Time
	timer clockwork.Timer
}

// NewAlarmScheduler creates a scheduler that calls fire when an alarm is due.
func NewAlarmScheduler(clock clockwork.Clock, fire func(key string)) *AlarmScheduler {
	return &AlarmScheduler{
		clock:  clock,
		fire:   fire,
		alarms: make(map[string]*alarm),
	}
}

// Arm schedules an alarm for key at the given instant, replacing any other
// pending alarm for key. Arming the instant that is already pending is a
// no-op. Instants in the past fire immediately.
func (s *AlarmScheduler) Arm(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if existing, ok := s.alarms[key]; ok {
		if existing.at.Equal(at) {
			return
		}
		existing.timer.Stop()
	}

	a := &alarm{at: at}
	delay := max(at.Sub(s.clock.Now()), 0)
	// The fake clock may run the callback before AfterFunc returns, so the
	// dispatch hops to a goroutine that waits for s.mu.
	a.timer = s.clock.AfterFunc(delay, func() {
		go s.dispatch(key, a)
	})
	s.alarms[key] = a
}

func (s *AlarmScheduler) dispatch(key string, a *alarm) {
	s.mu.Lock()
	if s.closed || s.alarms[key] != a {
		s.mu.Unlock()
		return
	}
	delete(s.alarms, key)
	s.mu.Unlock()

	s.fire(key)
}

// Disarm cancels the pending alarm for key, if any.
func (s *AlarmScheduler) Disarm(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.alarms[key]; ok {
		a.timer.Stop()
		delete(s.alarms, key)
	}
}

// Pending returns the instant of the pending alarm for key.
func (s *AlarmScheduler) Pending(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alarms[key]
	if !ok {
		return time.Time{}, false
	}
	return a.at, true
}

// Len returns the number of pending alarms.
func (s *AlarmScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alarms)
}

// Close stops every pending alarm. Later calls to Arm are ignored.
func (s *AlarmScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for key, a := range s.alarms {
		a.timer.Stop()
		delete(s.alarms, key)
	}
}
