// Package engagement holds the decision engine that turns an engagement
// snapshot into a desired reengagement tag, the per-pair state store, and
// the metric recalculation stage.
package engagement

import (
	"time"

	"github.com/ignite/engagement-sync/internal/domain"
)

// Snapshot is everything the decision engine looks at for one pair. It is a
// plain value so the decision is a pure function: identical inputs always
// yield identical output.
type Snapshot struct {
	AccessCount        int
	LastActivity       *time.Time
	ProgressPercentage float64
	EnrolledAt         time.Time

	// CurrentTag is the unqualified level tag the system believes is applied
	// ("" = none); TagAppliedAt is when it was applied.
	CurrentTag   string
	TagAppliedAt *time.Time
}

// Decision is the engine's output.
type Decision struct {
	// TagName is the desired unqualified level tag; "" means no tag.
	TagName      string
	Level        int
	CooldownDays int

	// Held is true when the existing tag was returned unchanged because it
	// is still inside its cooldown window.
	Held bool
}

// Desired reports whether the decision wants a tag applied.
func (d Decision) Desired() bool { return d.TagName != "" }

// Decide computes the desired reengagement tag for one pair.
//
// Rules, in order:
//  1. An invalid config is a ConfigurationError; the caller skips this
//     product for the pair without touching its other products.
//  2. A current tag still inside its cooldown window is returned unchanged,
//     preventing remove/reapply oscillation.
//  3. No activity signal at all means no tag: a brand-new enrollment that
//     was never opened is not the same as one abandoned long ago.
//  4. Otherwise the single highest level whose inactivity threshold is met
//     wins; below every threshold means no tag.
func Decide(snap Snapshot, cfg domain.ReengagementConfig, now time.Time) (Decision, error) {
	if err := cfg.Validate(); err != nil {
		return Decision{}, &domain.ConfigurationError{ProductCode: cfg.ProductID, Reason: err.Error()}
	}

	if snap.CurrentTag != "" && snap.TagAppliedAt != nil {
		if lv := cfg.LevelByTagName(snap.CurrentTag); lv != nil {
			cooldownEnd := snap.TagAppliedAt.AddDate(0, 0, lv.CooldownDays)
			if now.Before(cooldownEnd) {
				return Decision{
					TagName:      lv.TagName,
					Level:        lv.Level,
					CooldownDays: lv.CooldownDays,
					Held:         true,
				}, nil
			}
		}
	}

	if snap.LastActivity == nil {
		return Decision{}, nil
	}

	daysInactive := int(now.Sub(*snap.LastActivity).Hours() / 24)
	if daysInactive < 0 {
		daysInactive = 0
	}

	var picked *domain.ReengagementLevel
	for _, lv := range cfg.SortedByThreshold() {
		if daysInactive >= lv.InactivityDays {
			l := lv
			picked = &l
		}
	}
	if picked == nil {
		return Decision{}, nil
	}
	return Decision{
		TagName:      picked.TagName,
		Level:        picked.Level,
		CooldownDays: picked.CooldownDays,
	}, nil
}
