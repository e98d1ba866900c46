// Package repomanager vends repository implementations bound to a DBTX and
// exposes the schema migration hook. Services construct repositories through
// it so the same repository code runs both on a plain connection and inside
// a transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/dbx"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/attachments"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/notes"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/organizations"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Organizations(db dbx.DBTX) organizations.Repository
	Notes(db dbx.DBTX) notes.Repository
	Attachments(db dbx.DBTX) attachments.Repository
}
