package engagement

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/engagement-sync/internal/domain"
)

// Store handles CRUD for the engagement_states and communication_log tables.
type Store struct {
	db *sql.DB
}

// NewStore creates an engagement store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetState loads the engagement state for a pair, or nil when the pair has
// never been reconciled.
func (s *Store) GetState(ctx context.Context, memberID, productID string) (*domain.EngagementState, error) {
	var st domain.EngagementState
	err := s.db.QueryRowContext(ctx, `
		SELECT member_id, product_id, current_state, days_since_last_login,
		       current_level, COALESCE(current_tag, ''), tag_applied_at, cooldown_until,
		       inactive_streak, return_streak, tags_applied_count, returns_count,
		       created_at, updated_at
		FROM engagement_states WHERE member_id = $1 AND product_id = $2`,
		memberID, productID,
	).Scan(
		&st.MemberID, &st.ProductID, &st.CurrentState, &st.DaysSinceLastLogin,
		&st.CurrentLevel, &st.CurrentTag, &st.TagAppliedAt, &st.CooldownUntil,
		&st.InactiveStreak, &st.ReturnStreak, &st.TagsAppliedCount, &st.ReturnsCount,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state %s/%s: %w", memberID, productID, err)
	}
	return &st, nil
}

// UpsertState writes the full engagement state for a pair. States are
// created lazily on first reconciliation and never deleted.
func (s *Store) UpsertState(ctx context.Context, st domain.EngagementState) error {
	var currentTag any
	if st.CurrentTag != "" {
		currentTag = st.CurrentTag
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement_states (
			member_id, product_id, current_state, days_since_last_login,
			current_level, current_tag, tag_applied_at, cooldown_until,
			inactive_streak, return_streak, tags_applied_count, returns_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (member_id, product_id) DO UPDATE SET
			current_state = EXCLUDED.current_state,
			days_since_last_login = EXCLUDED.days_since_last_login,
			current_level = EXCLUDED.current_level,
			current_tag = EXCLUDED.current_tag,
			tag_applied_at = EXCLUDED.tag_applied_at,
			cooldown_until = EXCLUDED.cooldown_until,
			inactive_streak = EXCLUDED.inactive_streak,
			return_streak = EXCLUDED.return_streak,
			tags_applied_count = EXCLUDED.tags_applied_count,
			returns_count = EXCLUDED.returns_count,
			updated_at = NOW()`,
		st.MemberID, st.ProductID, st.CurrentState, st.DaysSinceLastLogin,
		st.CurrentLevel, currentTag, st.TagAppliedAt, st.CooldownUntil,
		st.InactiveStreak, st.ReturnStreak, st.TagsAppliedCount, st.ReturnsCount)
	if err != nil {
		return fmt.Errorf("upserting state %s/%s: %w", st.MemberID, st.ProductID, err)
	}
	return nil
}

// AppendCommunication records one tag-state change for audit.
func (s *Store) AppendCommunication(ctx context.Context, entry domain.CommunicationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	applied, _ := json.Marshal(entry.TagsApplied)
	removed, _ := json.Marshal(entry.TagsRemoved)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO communication_log (id, member_id, product_id, kind, tags_applied, tags_removed)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.MemberID, entry.ProductID, entry.Kind, applied, removed)
	if err != nil {
		return fmt.Errorf("appending communication for %s/%s: %w", entry.MemberID, entry.ProductID, err)
	}
	return nil
}

// ListCommunications returns the most recent entries for a member, newest
// first, capped at limit.
func (s *Store) ListCommunications(ctx context.Context, memberID string, limit int) ([]domain.CommunicationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, product_id, kind, tags_applied, tags_removed, created_at
		FROM communication_log WHERE member_id = $1
		ORDER BY created_at DESC LIMIT $2`, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CommunicationLogEntry
	for rows.Next() {
		var e domain.CommunicationLogEntry
		var applied, removed []byte
		if err := rows.Scan(&e.ID, &e.MemberID, &e.ProductID, &e.Kind, &applied, &removed, &e.CreatedAt); err != nil {
			return nil, err
		}
		json.Unmarshal(applied, &e.TagsApplied)
		json.Unmarshal(removed, &e.TagsRemoved)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListStatesForMember returns every engagement state for one member.
func (s *Store) ListStatesForMember(ctx context.Context, memberID string) ([]domain.EngagementState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, product_id, current_state, days_since_last_login,
		       current_level, COALESCE(current_tag, ''), tag_applied_at, cooldown_until,
		       inactive_streak, return_streak, tags_applied_count, returns_count,
		       created_at, updated_at
		FROM engagement_states WHERE member_id = $1 ORDER BY product_id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.EngagementState
	for rows.Next() {
		var st domain.EngagementState
		if err := rows.Scan(
			&st.MemberID, &st.ProductID, &st.CurrentState, &st.DaysSinceLastLogin,
			&st.CurrentLevel, &st.CurrentTag, &st.TagAppliedAt, &st.CooldownUntil,
			&st.InactiveStreak, &st.ReturnStreak, &st.TagsAppliedCount, &st.ReturnsCount,
			&st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// CountStatesByLifecycle aggregates engagement states per lifecycle bucket,
// feeding the run archive snapshot.
func (s *Store) CountStatesByLifecycle(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT current_state, COUNT(*) FROM engagement_states GROUP BY current_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// PruneCommunications deletes audit entries older than the retention window.
// Ran opportunistically after each batch; pq.Error details are surfaced so
// partition problems show up in stage stats rather than vanishing.
func (s *Store) PruneCommunications(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM communication_log WHERE created_at < $1`, olderThan)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return 0, fmt.Errorf("pruning communication log: %s (%s)", pqErr.Message, pqErr.Code)
		}
		return 0, fmt.Errorf("pruning communication log: %w", err)
	}
	return res.RowsAffected()
}
