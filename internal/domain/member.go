package domain

import "time"

// Member represents a person enrolled in one or more products.
// Email is the primary identity; the same person seen on Hotmart and
// Memberkit resolves to a single member row.
type Member struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// LastSeenBySource records the most recent activity timestamp observed per
	// ingestion source ("hotmart", "memberkit"). Stored as JSONB.
	LastSeenBySource map[string]time.Time `json:"last_seen_by_source" db:"last_seen_by_source"`
}

// Product is a purchasable offering. Code is the namespace for the tags the
// automation owns: every tag this system creates for the product starts with
// "<Code> - ".
type Product struct {
	ID     string `json:"id" db:"id"`
	Code   string `json:"code" db:"code"`
	Name   string `json:"name" db:"name"`
	Source string `json:"source" db:"source"` // originating platform: "hotmart" or "memberkit"

	// AutomationEnabled gates the reconcile-tags stage. Products excluded from
	// automation are still ingested and recalculated, never tagged.
	AutomationEnabled bool `json:"automation_enabled" db:"automation_enabled"`

	// LegacyTagPatterns are regex patterns for tag-name formats left behind by
	// past migrations. They are consulted only when deciding whether an
	// observed remote tag is owned by this product, never when generating the
	// desired tag.
	LegacyTagPatterns []string `json:"legacy_tag_patterns,omitempty" db:"legacy_tag_patterns"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EnrollmentStatus enumerates the states an enrollment can be in.
type EnrollmentStatus string

const (
	EnrollmentActive   EnrollmentStatus = "ACTIVE"
	EnrollmentInactive EnrollmentStatus = "INACTIVE"
)

// Enrollment links a member to a product with its engagement snapshot.
type Enrollment struct {
	MemberID  string           `json:"member_id" db:"member_id"`
	ProductID string           `json:"product_id" db:"product_id"`
	Status    EnrollmentStatus `json:"status" db:"status"`

	AccessCount        int        `json:"access_count" db:"access_count"`
	LastActivity       *time.Time `json:"last_activity" db:"last_activity"`
	ProgressPercentage float64    `json:"progress_percentage" db:"progress_percentage"`

	EnrolledAt time.Time `json:"enrolled_at" db:"enrolled_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// HasActivitySignal reports whether the enrollment carries any dated activity
// signal at all. A brand-new enrollment with no recorded access must not be
// conflated with maximal inactivity.
func (e Enrollment) HasActivitySignal() bool {
	return e.LastActivity != nil
}
