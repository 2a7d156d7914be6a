// Package degrade sizes per-source batches from a rolling success rate so a
// struggling source sheds load instead of monopolising workers.
package degrade

import (
	"math"
	"sync"
)

// Config tunes a Controller. Zero values fall back to defaults.
type Config struct {
	Baseline            int
	Floor               int
	Window              int
	LowWater            float64
	HighWater           float64
	ShrinkFactor        float64
	GrowthFactor        float64
	RecoveryEvaluations int
}

// Defaults used when Config fields are zero.
const (
	DefaultWindow              = 20
	DefaultLowWater            = 0.5
	DefaultHighWater           = 0.8
	DefaultShrinkFactor        = 0.5
	DefaultGrowthFactor        = 2.0
	DefaultRecoveryEvaluations = 3
)

func (c Config) withDefaults() Config {
	if c.Baseline <= 0 {
		c.Baseline = 1
	}
	if c.Floor <= 0 {
		c.Floor = 1
	}
	if c.Floor > c.Baseline {
		c.Floor = c.Baseline
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.LowWater <= 0 {
		c.LowWater = DefaultLowWater
	}
	if c.HighWater <= 0 {
		c.HighWater = DefaultHighWater
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		c.ShrinkFactor = DefaultShrinkFactor
	}
	if c.GrowthFactor <= 1 {
		c.GrowthFactor = DefaultGrowthFactor
	}
	if c.RecoveryEvaluations <= 0 {
		c.RecoveryEvaluations = DefaultRecoveryEvaluations
	}
	return c
}

// Snapshot is a point-in-time view of a Controller.
type Snapshot struct {
	BatchSize   int
	Baseline    int
	Floor       int
	SuccessRate float64
	Samples     int
}

// Controller tracks the last Window outcomes in a ring buffer. BatchSize
// re-evaluates only when new outcomes have been recorded since the last call.
type Controller struct {
	mu        sync.Mutex
	cfg       Config
	ring      []bool
	next      int
	filled    int
	successes int
	fresh     bool
	current   int
	highRun   int
	onResize  func(from, to int)
}

// New creates a Controller starting at the baseline batch size.
func New(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:     cfg,
		ring:    make([]bool, cfg.Window),
		current: cfg.Baseline,
	}
}

// OnResize registers a callback invoked when the batch size changes.
func (c *Controller) OnResize(fn func(from, to int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResize = fn
}

// Record adds one outcome to the rolling window.
func (c *Controller) Record(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filled == len(c.ring) {
		if c.ring[c.next] {
			c.successes--
		}
	} else {
		c.filled++
	}
	c.ring[c.next] = success
	if success {
		c.successes++
	}
	c.next = (c.next + 1) % len(c.ring)
	c.fresh = true
}

// BatchSize evaluates pending outcomes and returns the size for the next batch.
func (c *Controller) BatchSize() int {
	c.mu.Lock()
	from := c.current
	if c.fresh {
		c.evaluate()
		c.fresh = false
	}
	to := c.current
	fn := c.onResize
	c.mu.Unlock()
	if fn != nil && from != to {
		fn(from, to)
	}
	return to
}

func (c *Controller) evaluate() {
	rate := c.rate()
	switch {
	case rate < c.cfg.LowWater:
		c.highRun = 0
		if c.current <= c.cfg.Floor {
			return
		}
		next := int(math.Floor(float64(c.current) * c.cfg.ShrinkFactor))
		if next >= c.current {
			next = c.current - 1
		}
		c.current = max(next, c.cfg.Floor)
	case rate > c.cfg.HighWater:
		c.highRun++
		if c.highRun < c.cfg.RecoveryEvaluations || c.current >= c.cfg.Baseline {
			return
		}
		c.highRun = 0
		next := int(math.Ceil(float64(c.current) * c.cfg.GrowthFactor))
		if next <= c.current {
			next = c.current + 1
		}
		c.current = min(next, c.cfg.Baseline)
	default:
		c.highRun = 0
	}
}

func (c *Controller) rate() float64 {
	if c.filled == 0 {
		return 1
	}
	return float64(c.successes) / float64(c.filled)
}

// Snapshot returns the current batch size and success rate without evaluating.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		BatchSize:   c.current,
		Baseline:    c.cfg.Baseline,
		Floor:       c.cfg.Floor,
		SuccessRate: c.rate(),
		Samples:     c.filled,
	}
}
