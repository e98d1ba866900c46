package organizations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/common"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/dbx"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByLogin(ctx context.Context, login string) (*models.Organization, error) {
	query := `SELECT id, login, name, created, updated FROM organization WHERE login = $1`

	var org models.Organization
	err := r.db.QueryRowContext(ctx, query, login).
		Scan(&org.ID, &org.Login, &org.Name, &org.Created, &org.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select organization: %v", common.ErrStorage, err)
	}
	return &org, nil
}
