package models

import "time"

// Attachment is an uploaded file. NoteID is nil until the attachment is
// associated with a note; an attachment belongs to at most one note, and
// re-associating clears the previous link.
type Attachment struct {
	ID       int64
	NoteID   *int64
	Filename string
	Created  time.Time
}

// AttachmentInfo is the caller-facing view: a time-limited download URL
// issued by the object storage collaborator. File bytes are never proxied.
type AttachmentInfo struct {
	ID       int64
	Filename string
	URL      string
}

// NewAttachment is the result of registering an upload: the row plus a
// presigned PUT URL the client uploads the bytes to directly.
type NewAttachment struct {
	ID              int64
	NoteID          *int64
	Filename        string
	PresignedPutURL string
	URL             string
}
