package engagement

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-sync/internal/domain"
)

func TestGetStateNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT member_id, product_id").
		WithArgs("m1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"member_id"}))

	st, err := NewStore(db).GetState(context.Background(), "m1", "p1")
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"member_id", "product_id", "current_state", "days_since_last_login",
		"current_level", "current_tag", "tag_applied_at", "cooldown_until",
		"inactive_streak", "return_streak", "tags_applied_count", "returns_count",
		"created_at", "updated_at",
	}).AddRow("m1", "p1", "inactive", 12, 2, "Inactive 10d", now, now.Add(72*time.Hour),
		3, 0, 5, 1, now, now)

	mock.ExpectQuery("SELECT member_id, product_id").
		WithArgs("m1", "p1").
		WillReturnRows(rows)

	st, err := NewStore(db).GetState(context.Background(), "m1", "p1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, domain.StateInactive, st.CurrentState)
	assert.Equal(t, 2, st.CurrentLevel)
	assert.Equal(t, "Inactive 10d", st.CurrentTag)
	assert.Equal(t, 12, st.DaysSinceLastLogin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec("INSERT INTO engagement_states").
		WithArgs("m1", "p1", "inactive", 12, 2, "Inactive 10d",
			sqlmock.AnyArg(), sqlmock.AnyArg(), 3, 0, 5, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewStore(db).UpsertState(context.Background(), domain.EngagementState{
		MemberID:           "m1",
		ProductID:          "p1",
		CurrentState:       domain.StateInactive,
		DaysSinceLastLogin: 12,
		CurrentLevel:       2,
		CurrentTag:         "Inactive 10d",
		TagAppliedAt:       &now,
		CooldownUntil:      &now,
		InactiveStreak:     3,
		TagsAppliedCount:   5,
		ReturnsCount:       1,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStateNullsEmptyTag(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO engagement_states").
		WithArgs("m1", "p1", "active", 2, 0, nil,
			sqlmock.AnyArg(), sqlmock.AnyArg(), 0, 1, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewStore(db).UpsertState(context.Background(), domain.EngagementState{
		MemberID:           "m1",
		ProductID:          "p1",
		CurrentState:       domain.StateActive,
		DaysSinceLastLogin: 2,
		ReturnStreak:       1,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendCommunication(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO communication_log").
		WithArgs(sqlmock.AnyArg(), "m1", "p1", "tag_applied",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewStore(db).AppendCommunication(context.Background(), domain.CommunicationLogEntry{
		MemberID:    "m1",
		ProductID:   "p1",
		Kind:        domain.CommTagApplied,
		TagsApplied: []string{"CURSO-GO - Inactive 7d"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCommunications(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "member_id", "product_id", "kind", "tags_applied", "tags_removed", "created_at",
	}).AddRow("c1", "m1", "p1", "tag_applied", []byte(`["CURSO-GO - Inactive 7d"]`), []byte(`[]`), now).
		AddRow("c2", "m1", "p1", "returned", []byte(`[]`), []byte(`["CURSO-GO - Inactive 7d"]`), now)

	mock.ExpectQuery("SELECT id, member_id, product_id").
		WithArgs("m1", 50).
		WillReturnRows(rows)

	entries, err := NewStore(db).ListCommunications(context.Background(), "m1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.CommTagApplied, entries[0].Kind)
	assert.Equal(t, []string{"CURSO-GO - Inactive 7d"}, entries[0].TagsApplied)
	assert.Equal(t, domain.CommReturned, entries[1].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecalculate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO engagement_states").
		WillReturnResult(sqlmock.NewResult(0, 40))
	for i := 0; i < 4; i++ {
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	}

	stats, err := NewStore(db).Recalculate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, stats["updated"])
	assert.Equal(t, 10, stats["inactive"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
