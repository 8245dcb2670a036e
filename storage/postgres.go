package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/songzhibin97/license-workflow/types"
)

// Schema creates the tables PostgresStorage expects.
const Schema = `
CREATE TABLE IF NOT EXISTS applications (
	id                         TEXT PRIMARY KEY,
	applicant_id               TEXT NOT NULL,
	status_code                INTEGER NOT NULL,
	current_role_id            TEXT NOT NULL DEFAULT '',
	current_user_id            TEXT NOT NULL DEFAULT '',
	previous_role_id           TEXT NOT NULL DEFAULT '',
	previous_user_id           TEXT NOT NULL DEFAULT '',
	is_approved                BOOLEAN NOT NULL DEFAULT FALSE,
	is_rejected                BOOLEAN NOT NULL DEFAULT FALSE,
	is_pending                 BOOLEAN NOT NULL DEFAULT FALSE,
	is_re_enquiry              BOOLEAN NOT NULL DEFAULT FALSE,
	is_re_enquiry_done         BOOLEAN NOT NULL DEFAULT FALSE,
	is_ground_report_generated BOOLEAN NOT NULL DEFAULT FALSE,
	is_flaf_generated          BOOLEAN NOT NULL DEFAULT FALSE,
	version                    BIGINT NOT NULL,
	created_at                 BIGINT NOT NULL,
	updated_at                 BIGINT NOT NULL,
	attachments                JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS application_history (
	id               BIGINT PRIMARY KEY,
	application_id   TEXT NOT NULL REFERENCES applications(id),
	sequence         INTEGER NOT NULL,
	previous_user_id TEXT NOT NULL,
	previous_role_id TEXT NOT NULL,
	action_taken     INTEGER NOT NULL,
	status_before    INTEGER NOT NULL,
	status_after     INTEGER NOT NULL,
	next_user_id     TEXT NOT NULL DEFAULT '',
	next_role_id     TEXT NOT NULL DEFAULT '',
	remarks          TEXT NOT NULL,
	attachments      JSONB NOT NULL DEFAULT '[]',
	created_at       BIGINT NOT NULL,
	UNIQUE (application_id, sequence)
);
`

const applicationColumns = `id, applicant_id, status_code,
	current_role_id, current_user_id, previous_role_id, previous_user_id,
	is_approved, is_rejected, is_pending, is_re_enquiry, is_re_enquiry_done,
	is_ground_report_generated, is_flaf_generated,
	version, created_at, updated_at, attachments`

const historyColumns = `id, application_id, sequence, previous_user_id, previous_role_id,
	action_taken, status_before, status_after, next_user_id, next_role_id,
	remarks, attachments, created_at`

type applicationRow struct {
	types.Application
	AttachmentsJSON []byte `db:"attachments"`
}

func (r applicationRow) decode() (types.Application, error) {
	app := r.Application
	if len(r.AttachmentsJSON) > 0 {
		if err := json.Unmarshal(r.AttachmentsJSON, &app.Attachments); err != nil {
			return types.Application{}, fmt.Errorf("failed to unmarshal attachments of %s: %w", app.ID, err)
		}
		if len(app.Attachments) == 0 {
			app.Attachments = nil
		}
	}
	return app, nil
}

type historyRow struct {
	types.HistoryEntry
	AttachmentsJSON []byte `db:"attachments"`
}

// PostgresStorage implements Storage on PostgreSQL: one applications row per
// application and an append-only application_history table.
type PostgresStorage struct {
	db *sqlx.DB
}

// NewPostgresStorage wraps an open database handle.
func NewPostgresStorage(db *sqlx.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func attachmentsJSON(refs []types.AttachmentRef) ([]byte, error) {
	if refs == nil {
		refs = []types.AttachmentRef{}
	}
	return json.Marshal(refs)
}

// SaveApplication implements Storage.
func (s *PostgresStorage) SaveApplication(ctx context.Context, app types.Application) error {
	atts, err := attachmentsJSON(app.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments of %s: %w", app.ID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO NOTHING
	`, app.ID, app.ApplicantID, app.StatusCode,
		app.CurrentRoleID, app.CurrentUserID, app.PreviousRoleID, app.PreviousUserID,
		app.IsApproved, app.IsRejected, app.IsPending, app.IsReEnquiry, app.IsReEnquiryDone,
		app.IsGroundReportGenerated, app.IsFLAFGenerated,
		app.Version, app.CreatedAt, app.UpdatedAt, atts)
	if err != nil {
		return fmt.Errorf("failed to insert application %s: %w", app.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: id=%s", ErrApplicationExists, app.ID)
	}

	for _, h := range app.History {
		if err := insertHistory(ctx, tx, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, h types.HistoryEntry) error {
	atts, err := attachmentsJSON(h.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal history attachments: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO application_history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, h.ID, h.ApplicationID, h.Sequence, h.PreviousUserID, h.PreviousRoleID,
		h.ActionTaken, h.StatusBefore, h.StatusAfter, h.NextUserID, h.NextRoleID,
		h.Remarks, atts, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append history of %s: %w", h.ApplicationID, err)
	}
	return nil
}

// LoadApplication implements Storage.
func (s *PostgresStorage) LoadApplication(ctx context.Context, id string) (types.Application, error) {
	var row applicationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Application{}, fmt.Errorf("%w: id=%s", ErrApplicationNotFound, id)
	} else if err != nil {
		return types.Application{}, fmt.Errorf("failed to load application %s: %w", id, err)
	}
	app, err := row.decode()
	if err != nil {
		return types.Application{}, err
	}

	var rows []historyRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT `+historyColumns+` FROM application_history WHERE application_id = $1 ORDER BY sequence ASC`, id)
	if err != nil {
		return types.Application{}, fmt.Errorf("failed to load history of %s: %w", id, err)
	}
	app.History = make([]types.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		h := r.HistoryEntry
		if len(r.AttachmentsJSON) > 0 {
			if err := json.Unmarshal(r.AttachmentsJSON, &h.Attachments); err != nil {
				return types.Application{}, fmt.Errorf("failed to unmarshal history attachments of %s: %w", id, err)
			}
			if len(h.Attachments) == 0 {
				h.Attachments = nil
			}
		}
		app.History = append(app.History, h)
	}
	return app, nil
}

// CommitTransition implements Storage. The state update is guarded by the
// expected version and shares a transaction with the history insert.
func (s *PostgresStorage) CommitTransition(ctx context.Context, commit types.Commit) error {
	app := commit.Application
	atts, err := attachmentsJSON(app.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments of %s: %w", app.ID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE applications SET
			status_code = $3,
			current_role_id = $4, current_user_id = $5,
			previous_role_id = $6, previous_user_id = $7,
			is_approved = $8, is_rejected = $9, is_pending = $10,
			is_re_enquiry = $11, is_re_enquiry_done = $12,
			is_ground_report_generated = $13, is_flaf_generated = $14,
			version = $15, updated_at = $16, attachments = $17
		WHERE id = $1 AND version = $2
	`, app.ID, commit.ExpectedVersion, app.StatusCode,
		app.CurrentRoleID, app.CurrentUserID, app.PreviousRoleID, app.PreviousUserID,
		app.IsApproved, app.IsRejected, app.IsPending, app.IsReEnquiry, app.IsReEnquiryDone,
		app.IsGroundReportGenerated, app.IsFLAFGenerated,
		app.Version, app.UpdatedAt, atts)
	if err != nil {
		return fmt.Errorf("failed to update application %s: %w", app.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: id=%s expected=%d", ErrConflict, app.ID, commit.ExpectedVersion)
	}

	if err := insertHistory(ctx, tx, commit.Entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition of %s: %w", app.ID, err)
	}
	return nil
}

// ListApplications implements Storage.
func (s *PostgresStorage) ListApplications(ctx context.Context) ([]types.Application, error) {
	var rows []applicationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+applicationColumns+` FROM applications ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	out := make([]types.Application, 0, len(rows))
	for _, r := range rows {
		app, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, nil
}
