package engagement

import (
	"context"
	"database/sql"
	"fmt"
)

// Lifecycle thresholds in days. A member is at risk after a week without a
// login and considered inactive after a month.
const (
	atRiskAfterDays   = 7
	inactiveAfterDays = 30
)

// Recalculate refreshes days_since_last_login and the lifecycle bucket for
// every active enrollment, creating state rows for pairs seen for the first
// time. Runs as a single set-based statement so nightly recalc stays cheap
// even with large enrollments.
func (s *Store) Recalculate(ctx context.Context) (map[string]int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO engagement_states (member_id, product_id, current_state, days_since_last_login)
		SELECT e.member_id, e.product_id,
		       CASE
		           WHEN e.last_activity IS NULL THEN 'unknown'
		           WHEN NOW() - e.last_activity < INTERVAL '%d days' THEN 'active'
		           WHEN NOW() - e.last_activity < INTERVAL '%d days' THEN 'at_risk'
		           ELSE 'inactive'
		       END,
		       COALESCE(EXTRACT(DAY FROM NOW() - e.last_activity)::int, -1)
		FROM enrollments e
		WHERE e.status = 'ACTIVE'
		ON CONFLICT (member_id, product_id) DO UPDATE SET
			current_state = EXCLUDED.current_state,
			days_since_last_login = EXCLUDED.days_since_last_login,
			updated_at = NOW()`, atRiskAfterDays, inactiveAfterDays))
	if err != nil {
		return nil, fmt.Errorf("recalculating engagement states: %w", err)
	}

	updated, _ := res.RowsAffected()
	stats := map[string]int{"updated": int(updated)}

	for state, key := range map[string]string{
		"active":   "active",
		"at_risk":  "at_risk",
		"inactive": "inactive",
		"unknown":  "unknown",
	} {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM engagement_states WHERE current_state = $1`, state).Scan(&n)
		if err != nil && err != sql.ErrNoRows {
			return stats, fmt.Errorf("counting %s states: %w", state, err)
		}
		stats[key] = n
	}
	return stats, nil
}
