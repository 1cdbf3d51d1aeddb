package capture

// SessionClock measures elapsed recording time from hardware timestamps.
// It never reads the wall clock.
type SessionClock struct {
	started bool
	first   int64
	last    int64
	elapsed float64
	// regressions counts timestamps that went backwards.
	regressions uint64
}

// Reset clears the clock. The next observed timestamp becomes zero.
func (c *SessionClock) Reset() {
	*c = SessionClock{}
}

// Observe records a hardware timestamp in nanoseconds and returns the
// elapsed seconds. Elapsed time never decreases: a timestamp older than
// the latest one is counted and otherwise ignored.
func (c *SessionClock) Observe(ts int64) float64 {
	if !c.started {
		c.started = true
		c.first = ts
		c.last = ts
		c.elapsed = 0
		return 0
	}
	if ts < c.last {
		c.regressions++
		return c.elapsed
	}
	c.last = ts
	c.elapsed = float64(ts-c.first) / 1e9
	return c.elapsed
}

// Elapsed returns the seconds since the first observed timestamp.
func (c *SessionClock) Elapsed() float64 { return c.elapsed }

// Started reports whether a timestamp was observed since the last Reset.
func (c *SessionClock) Started() bool { return c.started }

// Regressions returns the count of out-of-order timestamps.
func (c *SessionClock) Regressions() uint64 { return c.regressions }
