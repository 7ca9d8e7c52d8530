package session

import "time"

// Timer is a cancellable scheduled call.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed calls.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Metrics receives flow outcomes. Implementations must be safe for concurrent use.
type Metrics interface {
	ObserveConnection(event string)
	ObserveSign(status string)
	ObservePayload(source string)
	ObserveBridgeClose(reason string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveConnection(string)  {}
func (nopMetrics) ObserveSign(string)        {}
func (nopMetrics) ObservePayload(string)     {}
func (nopMetrics) ObserveBridgeClose(string) {}
