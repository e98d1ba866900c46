package repomanager

import (
	"context"
	"database/sql"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/dbx"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/migrations"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/attachments"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/notes"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/organizations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// seam for migration error tests
var gooseUpContext = goose.UpContext

// PostgresRepositoryManager vends PostgreSQL-backed repositories.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Organizations(db dbx.DBTX) organizations.Repository {
	return organizations.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Notes(db dbx.DBTX) notes.Repository {
	return notes.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Attachments(db dbx.DBTX) attachments.Repository {
	return attachments.NewPostgresRepository(db)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetDialect("pgx")
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}
