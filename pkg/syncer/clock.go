package syncer

import "time"

// Clock abstracts time for the engine's timers so tests can drive ticks
// deterministically instead of waiting on wall-clock intervals.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is a stoppable tick source.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type realClock struct{}

// NewClock returns the wall-clock implementation used in production.
func NewClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) Chan() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()                  { r.t.Stop() }
