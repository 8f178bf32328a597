package db

import (
	"time"
)

// CallInfo is the structured metrics record emitted once per statement
// execution or procedure call, success or failure.
type CallInfo struct {
	Statement string
	Success   bool
	Start     time.Time
	Duration  time.Duration
}

// CallObserver receives one CallInfo per call. Observer failures are
// logged and never affect the caller's result.
type CallObserver interface {
	ObserveCall(CallInfo)
}

// CallObserverFunc adapts a function to the CallObserver interface.
type CallObserverFunc func(CallInfo)

func (f CallObserverFunc) ObserveCall(info CallInfo) { f(info) }

// AddObserver registers a call observer.
func (s *Service) AddObserver(o CallObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// RemoveObserver unregisters a previously added observer.
func (s *Service) RemoveObserver(o CallObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *Service) notify(statement string, success bool, start time.Time) {
	s.mu.Lock()
	observers := append([]CallObserver(nil), s.observers...)
	s.mu.Unlock()
	if len(observers) == 0 {
		return
	}
	info := CallInfo{
		Statement: statement,
		Success:   success,
		Start:     start,
		Duration:  time.Since(start),
	}
	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Warnf("call observer panicked: %v", r)
				}
			}()
			o.ObserveCall(info)
		}()
	}
}
