package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandaudit/internal/audit/models"
	"brandaudit/pkg/platform/sentinel"
)

var auditRowColumns = []string{
	"id", "brand_name", "website_url", "status", "results", "mentions_found", "coverage_rate",
	"total_publications", "top_source", "strategy", "shareable_link", "created_at", "completed_at",
}

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgresCreate(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audits")).
		WithArgs(sqlmock.AnyArg(), "Acme", "https://acme.test", "pending", "[]", 0, 0, 30, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	a, err := st.Create(context.Background(), models.AuditFields{BrandName: "Acme", WebsiteURL: "https://acme.test", TotalPublications: 30})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, a.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateDuplicateIsConflict(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audits")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := st.Create(context.Background(), models.AuditFields{BrandName: "Acme", WebsiteURL: "https://acme.test"})
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	st, mock := newMockPostgres(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	completed := created.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("FROM audits WHERE id = $1")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(auditRowColumns).AddRow(
			"a1", "Acme", "https://acme.test", "completed",
			[]byte(`[{"domain":"apnews.com","brandMentioned":true,"url":"https://apnews.com/x"}]`),
			1, 3, 30, "AP News",
			[]byte(`{"insights":["i"],"priorityTargets":["p"],"actions":["a"]}`),
			"http://localhost:5000/share/a1", created, completed,
		))

	a, err := st.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, a.Status)
	require.Len(t, a.Results, 1)
	assert.Equal(t, "apnews.com", a.Results[0].Domain)
	require.NotNil(t, a.Strategy)
	assert.Equal(t, []string{"a"}, a.Strategy.Actions)
	require.NotNil(t, a.TopSource)
	assert.Equal(t, "AP News", *a.TopSource)
	require.NotNil(t, a.CompletedAt)
	assert.Equal(t, completed, *a.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM audits WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := st.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func pendingRow(id string) *sqlmock.Rows {
	return sqlmock.NewRows(auditRowColumns).AddRow(
		id, "Acme", "https://acme.test", "processing", []byte(`[]`), 0, 0, 30,
		nil, nil, nil, time.Now().UTC(), nil,
	)
}

func TestPostgresUpdateLocksRow(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM audits WHERE id = $1 FOR UPDATE")).
		WithArgs("a1").
		WillReturnRows(pendingRow("a1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE audits SET")).
		WithArgs("a1", "processing", `[{"domain":"ktla.com","brandMentioned":false}]`, 0, 0, 30, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a, err := st.Update(context.Background(), "a1", models.AuditPatch{
		Results: []models.Result{{Domain: "ktla.com"}},
	})
	require.NoError(t, err)
	require.Len(t, a.Results, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateTerminalRollsBack(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(auditRowColumns).AddRow(
			"a1", "Acme", "https://acme.test", "failed", []byte(`[]`), 0, 0, 30,
			nil, nil, nil, time.Now().UTC(), time.Now().UTC(),
		))
	mock.ExpectRollback()

	_, err := st.Update(context.Background(), "a1", models.AuditPatch{MentionsFound: models.Ptr(3)})
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateNotFoundRollsBack(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(auditRowColumns))
	mock.ExpectRollback()

	_, err := st.Update(context.Background(), "missing", models.AuditPatch{MentionsFound: models.Ptr(3)})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListByStatus(t *testing.T) {
	st, mock := newMockPostgres(t)

	rows := sqlmock.NewRows(auditRowColumns).
		AddRow("a1", "Acme", "https://acme.test", "pending", []byte(`[]`), 0, 0, 30, nil, nil, nil, time.Now().UTC(), nil).
		AddRow("a2", "Globex", "https://globex.test", "pending", []byte(`[]`), 0, 0, 30, nil, nil, nil, time.Now().UTC(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 ORDER BY created_at, id")).
		WithArgs("pending").
		WillReturnRows(rows)

	got, err := st.ListByStatus(context.Background(), models.StatusPending)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "Globex", got[1].BrandName)
}

func TestPostgresListByStatusQueryError(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))

	_, err := st.ListByStatus(context.Background(), models.StatusPending)
	assert.Error(t, err)
}

func TestPostgresMigrate(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audits")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
