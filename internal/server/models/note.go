package models

import (
	"time"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/cryptox"
)

// NoteRow is a note as stored: title and body are opaque ciphertext,
// category (when present) is deterministic ciphertext, and Edek is the
// wrapped document key for title/body. The row never holds plaintext.
type NoteRow struct {
	ID       int64
	OrgID    int64
	Title    cryptox.Opaque
	Body     cryptox.Opaque
	Category *cryptox.Deterministic
	Edek     cryptox.EDEK
	Created  time.Time
	Updated  time.Time
}

// EncryptedNote carries the ciphertext columns of a note write before the
// row exists (no id/timestamps yet).
type EncryptedNote struct {
	Title    cryptox.Opaque
	Body     cryptox.Opaque
	Category *cryptox.Deterministic
	Edek     cryptox.EDEK
}

// Note is the decrypted view returned to callers.
type Note struct {
	ID          int64
	Title       string
	Body        string
	Category    *string
	Created     time.Time
	Updated     time.Time
	Attachments []AttachmentInfo
}
