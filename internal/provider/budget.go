package provider

import (
	"fmt"
	"sync"
	"time"

	"github.com/newsreel/newsreel/internal/logger"
)

// CallBudget caps daily calls per provider so a misbehaving run cannot burn
// through API quota. Counters reset 24 hours after creation or last reset.
type CallBudget struct {
	mu        sync.Mutex
	counts    map[string]int
	limits    map[string]int
	maxTotal  int
	total     int
	resetTime time.Time
}

func NewCallBudget(limits map[string]int, maxTotal int) *CallBudget {
	return &CallBudget{
		counts:    map[string]int{},
		limits:    limits,
		maxTotal:  maxTotal,
		resetTime: time.Now().Add(24 * time.Hour),
	}
}

// Use consumes one call from the named provider's budget, or errors when the
// provider or total limit is exhausted.
func (b *CallBudget) Use(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()

	if limit, ok := b.limits[name]; ok && limit > 0 && b.counts[name] >= limit {
		return fmt.Errorf("%s call budget exhausted (%d/%d)", name, b.counts[name], limit)
	}
	if b.maxTotal > 0 && b.total >= b.maxTotal {
		return fmt.Errorf("total call budget exhausted (%d/%d)", b.total, b.maxTotal)
	}

	b.counts[name]++
	b.total++
	return nil
}

// Remaining reports how many calls the named provider has left, or -1 for
// unlimited.
func (b *CallBudget) Remaining(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()

	limit, ok := b.limits[name]
	if !ok || limit <= 0 {
		return -1
	}
	return limit - b.counts[name]
}

func (b *CallBudget) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := map[string]interface{}{
		"total_used":  b.total,
		"total_limit": b.maxTotal,
		"reset_time":  b.resetTime.Format(time.RFC3339),
	}
	for name, count := range b.counts {
		stats[name+"_used"] = count
		stats[name+"_limit"] = b.limits[name]
	}
	return stats
}

// checkReset must be called with b.mu held.
func (b *CallBudget) checkReset() {
	if time.Now().Before(b.resetTime) {
		return
	}
	logger.Info("resetting provider call budget", "previous_total", b.total)
	b.counts = map[string]int{}
	b.total = 0
	b.resetTime = time.Now().Add(24 * time.Hour)
}
