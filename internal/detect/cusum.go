package detect

import "math"

// CUSUM accumulates signed deviations from a reference mean. The running sum
// belongs to the detector, not to a window: it carries over from one window
// to the next and only resets when it trips.
type CUSUM struct {
	driftRatio float64
	sum        float64
}

func NewCUSUM(driftRatio float64) *CUSUM {
	if driftRatio <= 0 {
		driftRatio = DefaultDriftRatio
	}
	return &CUSUM{driftRatio: driftRatio}
}

// Step adds value-mean to the running sum and reports whether its magnitude
// exceeded driftRatio*mean, in which case the sum restarts from zero.
func (c *CUSUM) Step(value, mean float64) bool {
	c.sum += value - mean
	if math.Abs(c.sum) > mean*c.driftRatio {
		c.sum = 0
		return true
	}
	return false
}

func (c *CUSUM) Sum() float64 {
	return c.sum
}
