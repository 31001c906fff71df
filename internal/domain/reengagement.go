package domain

import (
	"fmt"
	"sort"
	"time"
)

// ReengagementLevel maps an inactivity threshold to one marketing tag.
// TagName is the level's label within the product namespace; the fully
// qualified remote tag is "<ProductCode> - <TagName>".
type ReengagementLevel struct {
	Level          int    `json:"level" db:"level"`
	InactivityDays int    `json:"inactivity_days" db:"inactivity_days"`
	TagName        string `json:"tag_name" db:"tag_name"`
	CooldownDays   int    `json:"cooldown_days" db:"cooldown_days"`
}

// ReengagementConfig is a product's ordered list of reengagement levels.
type ReengagementConfig struct {
	ProductID string              `json:"product_id" db:"product_id"`
	Levels    []ReengagementLevel `json:"levels" db:"levels"`
}

// Validate checks the config is usable by the decision engine. Levels must be
// non-empty, uniquely numbered, positively thresholded, and carry tag names.
func (c ReengagementConfig) Validate() error {
	if len(c.Levels) == 0 {
		return fmt.Errorf("reengagement config for product %s has no levels", c.ProductID)
	}
	seen := make(map[int]bool, len(c.Levels))
	for _, lv := range c.Levels {
		if lv.InactivityDays <= 0 {
			return fmt.Errorf("level %d has non-positive inactivity threshold %d", lv.Level, lv.InactivityDays)
		}
		if lv.TagName == "" {
			return fmt.Errorf("level %d has empty tag name", lv.Level)
		}
		if lv.CooldownDays < 0 {
			return fmt.Errorf("level %d has negative cooldown %d", lv.Level, lv.CooldownDays)
		}
		if seen[lv.Level] {
			return fmt.Errorf("duplicate level number %d", lv.Level)
		}
		seen[lv.Level] = true
	}
	return nil
}

// SortedByThreshold returns the levels ordered by ascending inactivity
// threshold so callers can pick the highest exceeded level with one pass.
func (c ReengagementConfig) SortedByThreshold() []ReengagementLevel {
	out := make([]ReengagementLevel, len(c.Levels))
	copy(out, c.Levels)
	sort.Slice(out, func(i, j int) bool { return out[i].InactivityDays < out[j].InactivityDays })
	return out
}

// LevelByTagName finds the level whose TagName matches, or nil.
func (c ReengagementConfig) LevelByTagName(tagName string) *ReengagementLevel {
	for i := range c.Levels {
		if c.Levels[i].TagName == tagName {
			return &c.Levels[i]
		}
	}
	return nil
}

// EngagementLifecycleState classifies a member's standing on one product.
type EngagementLifecycleState string

const (
	StateActive   EngagementLifecycleState = "active"
	StateAtRisk   EngagementLifecycleState = "at_risk"
	StateInactive EngagementLifecycleState = "inactive"
	StateUnknown  EngagementLifecycleState = "unknown"
)

// EngagementState is the per (member, product) lifecycle record. Created
// lazily on the first reconciliation of a pair, updated on every run, never
// deleted.
type EngagementState struct {
	MemberID  string `json:"member_id" db:"member_id"`
	ProductID string `json:"product_id" db:"product_id"`

	CurrentState       EngagementLifecycleState `json:"current_state" db:"current_state"`
	DaysSinceLastLogin int                      `json:"days_since_last_login" db:"days_since_last_login"`

	// CurrentLevel and CurrentTag mirror the reengagement tag the system
	// believes is applied remotely. CurrentTag holds the level's TagName
	// (unqualified); empty means no tag applied.
	CurrentLevel  int        `json:"current_level" db:"current_level"`
	CurrentTag    string     `json:"current_tag" db:"current_tag"`
	TagAppliedAt  *time.Time `json:"tag_applied_at" db:"tag_applied_at"`
	CooldownUntil *time.Time `json:"cooldown_until" db:"cooldown_until"`

	InactiveStreak   int `json:"inactive_streak" db:"inactive_streak"`
	ReturnStreak     int `json:"return_streak" db:"return_streak"`
	TagsAppliedCount int `json:"tags_applied_count" db:"tags_applied_count"`
	ReturnsCount     int `json:"returns_count" db:"returns_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CommunicationKind labels communication-log entries.
type CommunicationKind string

const (
	CommTagApplied CommunicationKind = "tag_applied"
	CommTagRemoved CommunicationKind = "tag_removed"
	CommReturned   CommunicationKind = "returned"
)

// CommunicationLogEntry records one tag-state change for audit.
type CommunicationLogEntry struct {
	ID          string            `json:"id" db:"id"`
	MemberID    string            `json:"member_id" db:"member_id"`
	ProductID   string            `json:"product_id" db:"product_id"`
	Kind        CommunicationKind `json:"kind" db:"kind"`
	TagsApplied []string          `json:"tags_applied" db:"tags_applied"`
	TagsRemoved []string          `json:"tags_removed" db:"tags_removed"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}
