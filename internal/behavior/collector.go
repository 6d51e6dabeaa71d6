package behavior

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
)

// Config configures a Collector.
type Config struct {
	ChairID  string
	Clock    clock.Clock
	Post     clock.Dispatcher
	Interval time.Duration
	Capacity int
	// Ready gates sampling, typically on the predictor being trained.
	Ready func() bool
	// Sample derives a sample from the chair's current state.
	Sample func(at time.Time) domain.BehaviorSample
	Logger *slog.Logger
}

// Collector samples behavior on a fixed interval while a chair is occupied.
// Samples are kept in memory only.
type Collector struct {
	cfg    Config
	ring   *Ring[domain.BehaviorSample]
	logger *slog.Logger

	mu     sync.Mutex
	active bool
	gen    uint64
	timer  clock.Timer
}

// NewCollector creates a stopped collector.
func NewCollector(cfg Config) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Post == nil {
		cfg.Post = clock.Inline
	}
	if cfg.Ready == nil {
		cfg.Ready = func() bool { return true }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:    cfg,
		ring:   NewRing[domain.BehaviorSample](cfg.Capacity),
		logger: logger.With("chair_id", cfg.ChairID),
	}
}

// Start begins sampling. It is a no-op when already started.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return
	}
	c.active = true
	c.armLocked()
}

// Stop ends sampling. Collected samples are kept.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Close stops sampling.
func (c *Collector) Close() {
	c.Stop()
}

// Samples returns the buffered samples, oldest first.
func (c *Collector) Samples() []domain.BehaviorSample {
	return c.ring.Items()
}

// Recent returns up to n of the newest samples.
func (c *Collector) Recent(n int) []domain.BehaviorSample {
	return c.ring.Last(n)
}

// Len returns the number of buffered samples.
func (c *Collector) Len() int {
	return c.ring.Len()
}

// Active reports whether the collector is sampling.
func (c *Collector) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Collector) armLocked() {
	gen := c.gen
	c.timer = c.cfg.Clock.AfterFunc(c.cfg.Interval, func() {
		c.cfg.Post(func() { c.tick(gen) })
	})
}

func (c *Collector) tick(gen uint64) {
	c.mu.Lock()
	if !c.active || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.armLocked()
	c.mu.Unlock()

	if !c.cfg.Ready() || c.cfg.Sample == nil {
		return
	}
	s := c.cfg.Sample(c.cfg.Clock.Now())
	c.ring.Push(s)
	c.logger.Debug("Behavior sample collected", "position", s.Position, "buffered", c.ring.Len())
}
