// Package organizations provides read-only access to tenant records.
// Organizations are provisioned out of band; this layer only resolves them.
package organizations

import (
	"context"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/models"
)

type Repository interface {
	// GetByLogin resolves a tenant by its stable login.
	// Returns common.ErrNotFound when no such organization exists.
	GetByLogin(ctx context.Context, login string) (*models.Organization, error)
}
