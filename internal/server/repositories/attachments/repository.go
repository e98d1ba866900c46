// Package attachments provides the PostgreSQL repository for attachment
// rows. An attachment may exist before the note it ends up on (note_id is
// null until assigned) and belongs to at most one note at a time.
package attachments

import (
	"context"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/models"
)

type Repository interface {
	// Insert registers an uploaded file with no note association yet.
	Insert(ctx context.Context, filename string) (*models.Attachment, error)

	// Assign points the attachment at a note, replacing any previous link.
	// Returns common.ErrNotFound for an unknown attachment id; callers that
	// want best-effort attach semantics skip that error.
	Assign(ctx context.Context, id, noteID int64) (*models.Attachment, error)

	// ClearNote detaches all attachments currently pointing at the note.
	ClearNote(ctx context.Context, noteID int64) error

	// ListByNote returns the attachments of one note.
	ListByNote(ctx context.Context, noteID int64) ([]*models.Attachment, error)
}
