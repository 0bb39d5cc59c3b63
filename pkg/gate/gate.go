// Package gate decides when enough observations have accumulated to be
// worth a reasoning-model call.
package gate

// Gate counts observations since the last feedback emission.
// It is not safe for concurrent use; the controller guards it together
// with the context window.
type Gate struct {
	count     int
	threshold int
}

// New returns a Gate that emits once count reaches threshold.
// A non-positive threshold is treated as 1.
func New(threshold int) *Gate {
	if threshold < 1 {
		threshold = 1
	}
	return &Gate{threshold: threshold}
}

// Record counts one observation.
func (g *Gate) Record() { g.count++ }

// ShouldEmit reports whether count >= threshold.
func (g *Gate) ShouldEmit() bool { return g.count >= g.threshold }

// Reset zeroes the counter. Only the controller calls this, and only when it
// actually triggers feedback generation.
func (g *Gate) Reset() { g.count = 0 }

// Count returns the observations recorded since the last reset.
func (g *Gate) Count() int { return g.count }

// Threshold returns the configured threshold.
func (g *Gate) Threshold() int { return g.threshold }

// Remaining returns how many more observations are needed before emitting.
func (g *Gate) Remaining() int {
	if r := g.threshold - g.count; r > 0 {
		return r
	}
	return 0
}
