package resync

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	Steps []time.Duration // default: 1s, 2s, 5s, 10s
	Max   time.Duration   // default: 30s, used once Steps run out

	// Jitter adds up to this fraction of the delay. Zero disables it.
	Jitter float64
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Steps: []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second},
		Max:   30 * time.Second,
	}
}

// Planner yields reconnect delays for changefeed sources.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if len(cfg.Steps) == 0 {
		cfg.Steps = def.Steps
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if r == nil && cfg.Jitter > 0 {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

// Delay returns the wait before reconnect attempt n (1-based).
func (p *Planner) Delay(attempt int) time.Duration {
	d := p.cfg.Max
	if attempt <= 0 {
		attempt = 1
	}
	if attempt <= len(p.cfg.Steps) {
		d = p.cfg.Steps[attempt-1]
	}
	if p.cfg.Jitter > 0 && p.r != nil {
		span := int(float64(d/time.Millisecond) * p.cfg.Jitter)
		if span > 0 {
			d += time.Duration(p.r.Intn(span+1)) * time.Millisecond
		}
	}
	return d
}
