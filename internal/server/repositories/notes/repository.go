// Package notes provides the PostgreSQL repository for encrypted note rows.
//
// Every method takes the owning organization's id and every generated query
// includes an org_id predicate. That predicate is the primary
// tenant-isolation mechanism; there is deliberately no way to ask this
// repository for a note without naming a tenant.
package notes

import (
	"context"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/cryptox"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/models"
)

type Repository interface {
	// Insert stores a new encrypted note row and returns it with id and
	// timestamps populated.
	Insert(ctx context.Context, orgID int64, enc models.EncryptedNote) (*models.NoteRow, error)

	// Update replaces all ciphertext columns of (id, orgID).
	// Returns common.ErrNotFound when no such row exists for that tenant.
	Update(ctx context.Context, id, orgID int64, enc models.EncryptedNote) (*models.NoteRow, error)

	// Get fetches one row; common.ErrNotFound when absent for that tenant.
	Get(ctx context.Context, id, orgID int64) (*models.NoteRow, error)

	// List returns all of the tenant's rows.
	List(ctx context.Context, orgID int64) ([]*models.NoteRow, error)

	// ListByCategory filters the tenant's rows by deterministic-ciphertext
	// equality, so no decryption is needed to filter.
	ListByCategory(ctx context.Context, orgID int64, category cryptox.Deterministic) ([]*models.NoteRow, error)

	// SelectByIDs fetches the tenant's rows whose ids are in the list, in no
	// particular order.
	SelectByIDs(ctx context.Context, orgID int64, ids []int64) ([]*models.NoteRow, error)

	// ListCategories returns the distinct non-null category ciphertexts of
	// the tenant.
	ListCategories(ctx context.Context, orgID int64) ([]cryptox.Deterministic, error)

	// GetEdek reads only the wrapped key column; common.ErrNotFound when the
	// row is absent for that tenant.
	GetEdek(ctx context.Context, id, orgID int64) (cryptox.EDEK, error)

	// PutEdek writes only the wrapped key column and reports rows affected.
	// Rekey cost stays proportional to the wrapped key, not the document.
	PutEdek(ctx context.Context, id, orgID int64, edek cryptox.EDEK) (int64, error)
}
