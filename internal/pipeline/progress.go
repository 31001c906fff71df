package pipeline

import (
	"log"
	"time"
)

// progressTracker logs reconcile progress at fixed percentage increments
// with an ETA from the running average per-pair duration.
type progressTracker struct {
	total       int
	stepPercent int

	done      int
	nextLogAt int
	startedAt time.Time
	now       func() time.Time
}

func newProgressTracker(total, stepPercent int, now func() time.Time) *progressTracker {
	if stepPercent <= 0 || stepPercent > 100 {
		stepPercent = 10
	}
	return &progressTracker{
		total:       total,
		stepPercent: stepPercent,
		nextLogAt:   stepPercent,
		startedAt:   now(),
		now:         now,
	}
}

// Tick records one completed pair and logs when a step boundary is crossed.
func (p *progressTracker) Tick() {
	p.done++
	if p.total == 0 {
		return
	}
	percent := p.done * 100 / p.total
	if percent < p.nextLogAt {
		return
	}
	for p.nextLogAt <= percent {
		p.nextLogAt += p.stepPercent
	}

	elapsed := p.now().Sub(p.startedAt)
	avg := elapsed / time.Duration(p.done)
	eta := avg * time.Duration(p.total-p.done)
	log.Printf("[Pipeline] reconcile %d%% (%d/%d pairs, avg %s/pair, eta %s)",
		percent, p.done, p.total, avg.Round(time.Millisecond), eta.Round(time.Second))
}
