package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"brandaudit/internal/audit/models"
	"brandaudit/pkg/platform/sentinel"
	txcontext "brandaudit/pkg/platform/tx"
)

// Schema creates the audits table. Migrate applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS audits (
	id                 TEXT PRIMARY KEY,
	brand_name         TEXT NOT NULL,
	website_url        TEXT NOT NULL,
	status             TEXT NOT NULL,
	results            JSONB NOT NULL DEFAULT '[]',
	mentions_found     INTEGER NOT NULL DEFAULT 0,
	coverage_rate      INTEGER NOT NULL DEFAULT 0,
	total_publications INTEGER NOT NULL DEFAULT 0,
	top_source         TEXT,
	strategy           JSONB,
	shareable_link     TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS audits_status_created_at_idx ON audits (status, created_at);
`

const auditColumns = `id, brand_name, website_url, status, results, mentions_found, coverage_rate,
	total_publications, top_source, strategy, shareable_link, created_at, completed_at`

// Postgres persists audits in a single table. Updates lock the row with
// SELECT ... FOR UPDATE inside a transaction.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the schema if it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audits schema: %w", err)
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, fields models.AuditFields) (*models.Audit, error) {
	a := models.NewAudit(fields, s.now())
	results, err := json.Marshal(a.Results)
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}

	query := `
		INSERT INTO audits (id, brand_name, website_url, status, results, mentions_found,
			coverage_rate, total_publications, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = txcontext.QuerierFrom(ctx, s.db).ExecContext(ctx, query,
		a.ID,
		a.BrandName,
		a.WebsiteURL,
		string(a.Status),
		string(results),
		a.MentionsFound,
		a.CoverageRate,
		a.TotalPublications,
		a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert audit %s: %w", a.ID, sentinel.ErrConflict)
		}
		return nil, wrapErr("insert audit", err)
	}
	return a, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*models.Audit, error) {
	query := `SELECT ` + auditColumns + ` FROM audits WHERE id = $1`
	return scanAudit(txcontext.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, id), id)
}

// Update locks the row, checks the patch against the current state and
// writes the merged record back.
func (s *Postgres) Update(ctx context.Context, id string, patch models.AuditPatch) (*models.Audit, error) {
	var updated *models.Audit
	err := txcontext.Run(ctx, s.db, nil, func(ctx context.Context) error {
		q := txcontext.QuerierFrom(ctx, s.db)
		a, err := scanAudit(q.QueryRowContext(ctx,
			`SELECT `+auditColumns+` FROM audits WHERE id = $1 FOR UPDATE`, id), id)
		if err != nil {
			return err
		}
		if err := patch.Check(a); err != nil {
			return err
		}
		patch.Apply(a)

		results, err := json.Marshal(a.Results)
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		// JSONB columns take text; lib/pq would send []byte as bytea.
		var strategy any
		if a.Strategy != nil {
			raw, err := json.Marshal(a.Strategy)
			if err != nil {
				return fmt.Errorf("marshal strategy: %w", err)
			}
			strategy = string(raw)
		}

		query := `
			UPDATE audits SET
				status = $2,
				results = $3,
				mentions_found = $4,
				coverage_rate = $5,
				total_publications = $6,
				top_source = $7,
				strategy = $8,
				shareable_link = $9,
				completed_at = $10
			WHERE id = $1
		`
		_, err = q.ExecContext(ctx, query,
			id,
			string(a.Status),
			string(results),
			a.MentionsFound,
			a.CoverageRate,
			a.TotalPublications,
			a.TopSource,
			strategy,
			a.ShareableLink,
			a.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("update audit: %w", err)
		}
		updated = a
		return nil
	})
	if err != nil {
		if isConnErr(err) && !errors.Is(err, sentinel.ErrUnavailable) {
			return nil, wrapErr("update audit "+id, err)
		}
		return nil, err
	}
	return updated, nil
}

// ListByStatus returns audits in status, oldest first.
func (s *Postgres) ListByStatus(ctx context.Context, status models.Status) ([]*models.Audit, error) {
	query := `SELECT ` + auditColumns + ` FROM audits WHERE status = $1 ORDER BY created_at, id`
	rows, err := txcontext.QuerierFrom(ctx, s.db).QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, wrapErr("query audits", err)
	}
	defer rows.Close()

	out := make([]*models.Audit, 0)
	for rows.Next() {
		a, err := scanAudit(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate audits", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudit(row rowScanner, id string) (*models.Audit, error) {
	var (
		a             models.Audit
		status        string
		results       []byte
		strategy      []byte
		topSource     sql.NullString
		shareableLink sql.NullString
		completedAt   sql.NullTime
	)
	err := row.Scan(
		&a.ID,
		&a.BrandName,
		&a.WebsiteURL,
		&status,
		&results,
		&a.MentionsFound,
		&a.CoverageRate,
		&a.TotalPublications,
		&topSource,
		&strategy,
		&shareableLink,
		&a.CreatedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("scan audit", err)
	}

	a.Status = models.Status(status)
	a.Results = []models.Result{}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &a.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	if len(strategy) > 0 {
		var st models.Strategy
		if err := json.Unmarshal(strategy, &st); err != nil {
			return nil, fmt.Errorf("decode strategy: %w", err)
		}
		a.Strategy = &st
	}
	if topSource.Valid {
		a.TopSource = &topSource.String
	}
	if shareableLink.Valid {
		a.ShareableLink = &shareableLink.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
