package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/common"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/dbx"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX so assignment can
// run inside the note write transaction.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanAttachment(scan func(dest ...any) error) (*models.Attachment, error) {
	var a models.Attachment
	var noteID sql.NullInt64
	if err := scan(&a.ID, &noteID, &a.Filename, &a.Created); err != nil {
		return nil, err
	}
	if noteID.Valid {
		a.NoteID = &noteID.Int64
	}
	return &a, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, filename string) (*models.Attachment, error) {
	query := `INSERT INTO attachment (filename) VALUES ($1)
		RETURNING id, note_id, filename, created`

	a, err := scanAttachment(r.db.QueryRowContext(ctx, query, filename).Scan)
	if err != nil {
		return nil, fmt.Errorf("%w: insert attachment: %v", common.ErrStorage, err)
	}
	return a, nil
}

func (r *PostgresRepository) Assign(ctx context.Context, id, noteID int64) (*models.Attachment, error) {
	query := `UPDATE attachment SET note_id = $1 WHERE id = $2
		RETURNING id, note_id, filename, created`

	a, err := scanAttachment(r.db.QueryRowContext(ctx, query, noteID, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: assign attachment: %v", common.ErrStorage, err)
	}
	return a, nil
}

func (r *PostgresRepository) ClearNote(ctx context.Context, noteID int64) error {
	query := `UPDATE attachment SET note_id = NULL WHERE note_id = $1`

	if _, err := r.db.ExecContext(ctx, query, noteID); err != nil {
		return fmt.Errorf("%w: clear attachments: %v", common.ErrStorage, err)
	}
	return nil
}

func (r *PostgresRepository) ListByNote(ctx context.Context, noteID int64) ([]*models.Attachment, error) {
	query := `SELECT id, note_id, filename, created FROM attachment WHERE note_id = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, noteID)
	if err != nil {
		return nil, fmt.Errorf("%w: select attachments: %v", common.ErrStorage, err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scan attachment: %v", common.ErrStorage, err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: select attachments: %v", common.ErrStorage, err)
	}
	return result, nil
}
