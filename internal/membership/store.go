// Package membership persists members, products, enrollments, and each
// product's reengagement level configuration.
package membership

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engagement-sync/internal/domain"
)

// Store handles CRUD for the members, products, enrollments, and
// reengagement_levels tables.
type Store struct {
	db *sql.DB
}

// NewStore creates a membership store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertMember inserts or refreshes a member keyed by email and returns the
// member id. The per-source last-seen map is merged, keeping the newest
// timestamp each platform has reported.
func (s *Store) UpsertMember(ctx context.Context, email, name, source string, lastSeen *time.Time) (string, error) {
	id := uuid.NewString()
	seenJSON := []byte("{}")
	if lastSeen != nil {
		seenJSON, _ = json.Marshal(map[string]time.Time{source: *lastSeen})
	}

	var memberID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO members (id, email, name, last_seen_by_source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE members.name END,
			last_seen_by_source = members.last_seen_by_source || EXCLUDED.last_seen_by_source,
			updated_at = NOW()
		RETURNING id`,
		id, email, name, seenJSON,
	).Scan(&memberID)
	if err != nil {
		return "", fmt.Errorf("upserting member %s: %w", email, err)
	}
	return memberID, nil
}

// UpsertProduct inserts or refreshes a product keyed by code and returns the
// product id. Automation flags and legacy patterns are operator-managed and
// never overwritten by ingestion.
func (s *Store) UpsertProduct(ctx context.Context, code, name, source string) (string, error) {
	id := uuid.NewString()

	var productID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, code, name, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE products.name END,
			updated_at = NOW()
		RETURNING id`,
		id, code, name, source,
	).Scan(&productID)
	if err != nil {
		return "", fmt.Errorf("upserting product %s: %w", code, err)
	}
	return productID, nil
}

// UpsertEnrollment inserts or refreshes the member×product link with its
// engagement snapshot.
func (s *Store) UpsertEnrollment(ctx context.Context, e domain.Enrollment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (member_id, product_id, status, access_count, last_activity, progress_percentage, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (member_id, product_id) DO UPDATE SET
			status = EXCLUDED.status,
			access_count = GREATEST(enrollments.access_count, EXCLUDED.access_count),
			last_activity = GREATEST(enrollments.last_activity, EXCLUDED.last_activity),
			progress_percentage = GREATEST(enrollments.progress_percentage, EXCLUDED.progress_percentage),
			updated_at = NOW()`,
		e.MemberID, e.ProductID, e.Status, e.AccessCount, e.LastActivity, e.ProgressPercentage, e.EnrolledAt)
	if err != nil {
		return fmt.Errorf("upserting enrollment %s/%s: %w", e.MemberID, e.ProductID, err)
	}
	return nil
}

// SetReengagementLevels replaces a product's level configuration.
func (s *Store) SetReengagementLevels(ctx context.Context, productID string, levels []domain.ReengagementLevel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reengagement_levels WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("clearing levels for %s: %w", productID, err)
	}
	for _, lv := range levels {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reengagement_levels (product_id, level, inactivity_days, tag_name, cooldown_days)
			VALUES ($1, $2, $3, $4, $5)`,
			productID, lv.Level, lv.InactivityDays, lv.TagName, lv.CooldownDays); err != nil {
			return fmt.Errorf("inserting level %d for %s: %w", lv.Level, productID, err)
		}
	}
	return tx.Commit()
}

// GetReengagementConfig loads a product's levels, ordered by level number.
// A product with no rows yields a config with empty Levels, which the
// decision engine reports as a configuration error.
func (s *Store) GetReengagementConfig(ctx context.Context, productID string) (domain.ReengagementConfig, error) {
	cfg := domain.ReengagementConfig{ProductID: productID}

	rows, err := s.db.QueryContext(ctx, `
		SELECT level, inactivity_days, tag_name, cooldown_days
		FROM reengagement_levels WHERE product_id = $1 ORDER BY level`, productID)
	if err != nil {
		return cfg, fmt.Errorf("loading config for %s: %w", productID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var lv domain.ReengagementLevel
		if err := rows.Scan(&lv.Level, &lv.InactivityDays, &lv.TagName, &lv.CooldownDays); err != nil {
			return cfg, err
		}
		cfg.Levels = append(cfg.Levels, lv)
	}
	return cfg, rows.Err()
}

// ListAutomatedProducts returns every product with automation enabled,
// each with its reengagement levels loaded. The pre-create stage derives
// the distinct tag-name set from this.
func (s *Store) ListAutomatedProducts(ctx context.Context) ([]domain.Product, map[string]domain.ReengagementConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, source, automation_enabled, COALESCE(legacy_tag_patterns, '[]'), created_at, updated_at
		FROM products WHERE automation_enabled = true ORDER BY code`)
	if err != nil {
		return nil, nil, fmt.Errorf("listing automated products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		var patterns []byte
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Source, &p.AutomationEnabled, &patterns, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, nil, err
		}
		json.Unmarshal(patterns, &p.LegacyTagPatterns)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	configs := make(map[string]domain.ReengagementConfig, len(products))
	for _, p := range products {
		cfg, err := s.GetReengagementConfig(ctx, p.ID)
		if err != nil {
			return nil, nil, err
		}
		configs[p.ID] = cfg
	}
	return products, configs, nil
}

// ListActivePairs returns every ACTIVE enrollment joined with its member and
// product, restricted to automation-enabled products, with the product's
// reengagement config attached. This is the reconcile stage's work list.
func (s *Store) ListActivePairs(ctx context.Context) ([]domain.Pair, error) {
	products, configs, err := s.ListAutomatedProducts(ctx)
	if err != nil {
		return nil, err
	}
	productsByID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productsByID[p.ID] = p
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.email, COALESCE(m.name, ''), COALESCE(m.last_seen_by_source, '{}'),
		       e.product_id, e.status, e.access_count, e.last_activity, e.progress_percentage, e.enrolled_at
		FROM enrollments e
		JOIN members m ON m.id = e.member_id
		JOIN products p ON p.id = e.product_id
		WHERE e.status = 'ACTIVE' AND p.automation_enabled = true
		ORDER BY m.email, p.code`)
	if err != nil {
		return nil, fmt.Errorf("listing active pairs: %w", err)
	}
	defer rows.Close()

	var pairs []domain.Pair
	for rows.Next() {
		var pair domain.Pair
		var seenJSON []byte
		if err := rows.Scan(
			&pair.Member.ID, &pair.Member.Email, &pair.Member.Name, &seenJSON,
			&pair.Enrollment.ProductID, &pair.Enrollment.Status, &pair.Enrollment.AccessCount,
			&pair.Enrollment.LastActivity, &pair.Enrollment.ProgressPercentage, &pair.Enrollment.EnrolledAt,
		); err != nil {
			return nil, err
		}
		json.Unmarshal(seenJSON, &pair.Member.LastSeenBySource)
		pair.Enrollment.MemberID = pair.Member.ID

		product, ok := productsByID[pair.Enrollment.ProductID]
		if !ok {
			// Product row vanished between the two queries; skip rather than fail the batch.
			continue
		}
		pair.Product = product
		pair.Config = configs[product.ID]
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// GetMemberByEmail fetches one member, or nil when absent.
func (s *Store) GetMemberByEmail(ctx context.Context, email string) (*domain.Member, error) {
	var m domain.Member
	var seenJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(name, ''), COALESCE(phone, ''), COALESCE(last_seen_by_source, '{}'), created_at, updated_at
		FROM members WHERE email = $1`, email,
	).Scan(&m.ID, &m.Email, &m.Name, &m.Phone, &seenJSON, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal(seenJSON, &m.LastSeenBySource)
	return &m, nil
}
