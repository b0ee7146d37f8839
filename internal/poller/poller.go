// ABOUTME: Fixed-interval refresh timer used while realtime delivery is degraded
// ABOUTME: Idempotent Start, synchronous Stop, no payload on ticks

package poller

import (
	"sync"
	"time"
)

// DefaultInterval is how often a refresh is signalled while polling.
const DefaultInterval = 30 * time.Second

// Poller calls onTick every interval between Start and Stop.
type Poller struct {
	interval time.Duration
	onTick   func()

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a stopped poller. A non-positive interval uses DefaultInterval.
func New(interval time.Duration, onTick func()) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		interval: interval,
		onTick:   onTick,
	}
}

// Start begins ticking. Calling Start while running is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)
}

// Stop halts ticking and waits for an in-flight tick to finish. It is safe to
// call when not running. Stop must not be called from onTick.
func (p *Poller) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Active reports whether the poller is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// Interval returns the tick interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

func (p *Poller) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Stop may race the ticker; prefer stopping
			select {
			case <-stop:
				return
			default:
			}
			if p.onTick != nil {
				p.onTick()
			}
		}
	}
}
