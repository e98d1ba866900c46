package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/common"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/cryptox"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/dbx"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or
// *sql.Tx), so the write path can run inside the caller's transaction.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const noteColumns = `id, org_id, title, body, category, edek, created, updated`

func scanNoteRow(scan func(dest ...any) error) (*models.NoteRow, error) {
	var row models.NoteRow
	var category sql.NullString
	err := scan(&row.ID, &row.OrgID, &row.Title, &row.Body, &category, &row.Edek, &row.Created, &row.Updated)
	if err != nil {
		return nil, err
	}
	if category.Valid {
		c := cryptox.Deterministic(category.String)
		row.Category = &c
	}
	return &row, nil
}

func categoryArg(enc models.EncryptedNote) any {
	if enc.Category == nil {
		return nil
	}
	return string(*enc.Category)
}

func (r *PostgresRepository) Insert(ctx context.Context, orgID int64, enc models.EncryptedNote) (*models.NoteRow, error) {
	query := `
		INSERT INTO note (org_id, title, body, category, edek)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + noteColumns

	row, err := scanNoteRow(r.db.QueryRowContext(ctx, query,
		orgID, enc.Title, enc.Body, categoryArg(enc), enc.Edek).Scan)
	if err != nil {
		return nil, fmt.Errorf("%w: insert note: %v", common.ErrStorage, err)
	}
	return row, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id, orgID int64, enc models.EncryptedNote) (*models.NoteRow, error) {
	query := `
		UPDATE note
		SET title = $1, body = $2, category = $3, edek = $4, updated = now()
		WHERE id = $5 AND org_id = $6
		RETURNING ` + noteColumns

	row, err := scanNoteRow(r.db.QueryRowContext(ctx, query,
		enc.Title, enc.Body, categoryArg(enc), enc.Edek, id, orgID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update note: %v", common.ErrStorage, err)
	}
	return row, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id, orgID int64) (*models.NoteRow, error) {
	query := `SELECT ` + noteColumns + ` FROM note WHERE id = $1 AND org_id = $2`

	row, err := scanNoteRow(r.db.QueryRowContext(ctx, query, id, orgID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select note: %v", common.ErrStorage, err)
	}
	return row, nil
}

func (r *PostgresRepository) queryRows(ctx context.Context, query string, args ...any) ([]*models.NoteRow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: select notes: %v", common.ErrStorage, err)
	}
	defer rows.Close()

	var result []*models.NoteRow
	for rows.Next() {
		row, err := scanNoteRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scan note: %v", common.ErrStorage, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: select notes: %v", common.ErrStorage, err)
	}
	return result, nil
}

func (r *PostgresRepository) List(ctx context.Context, orgID int64) ([]*models.NoteRow, error) {
	query := `SELECT ` + noteColumns + ` FROM note WHERE org_id = $1 ORDER BY id`
	return r.queryRows(ctx, query, orgID)
}

func (r *PostgresRepository) ListByCategory(ctx context.Context, orgID int64, category cryptox.Deterministic) ([]*models.NoteRow, error) {
	query := `SELECT ` + noteColumns + ` FROM note
		WHERE org_id = $1 AND category IS NOT NULL AND category = $2 ORDER BY id`
	return r.queryRows(ctx, query, orgID, string(category))
}

func (r *PostgresRepository) SelectByIDs(ctx context.Context, orgID int64, ids []int64) ([]*models.NoteRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + noteColumns + ` FROM note WHERE org_id = $1 AND id = ANY($2)`
	return r.queryRows(ctx, query, orgID, ids)
}

func (r *PostgresRepository) ListCategories(ctx context.Context, orgID int64) ([]cryptox.Deterministic, error) {
	query := `SELECT DISTINCT category FROM note WHERE org_id = $1 AND category IS NOT NULL`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("%w: select categories: %v", common.ErrStorage, err)
	}
	defer rows.Close()

	var result []cryptox.Deterministic
	for rows.Next() {
		var c cryptox.Deterministic
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("%w: scan category: %v", common.ErrStorage, err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: select categories: %v", common.ErrStorage, err)
	}
	return result, nil
}

func (r *PostgresRepository) GetEdek(ctx context.Context, id, orgID int64) (cryptox.EDEK, error) {
	query := `SELECT edek FROM note WHERE id = $1 AND org_id = $2`

	var edek cryptox.EDEK
	err := r.db.QueryRowContext(ctx, query, id, orgID).Scan(&edek)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: select edek: %v", common.ErrStorage, err)
	}
	return edek, nil
}

func (r *PostgresRepository) PutEdek(ctx context.Context, id, orgID int64, edek cryptox.EDEK) (int64, error) {
	query := `UPDATE note SET edek = $1 WHERE id = $2 AND org_id = $3`

	res, err := r.db.ExecContext(ctx, query, edek, id, orgID)
	if err != nil {
		return 0, fmt.Errorf("%w: update edek: %v", common.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", common.ErrStorage, err)
	}
	return n, nil
}
