// Package search keeps the external search index in sync with notes and
// runs tenant-scoped hybrid queries against it.
//
// The index document for a note carries its keyword fields plus the two
// encrypted embedding vectors. Index updates are not part of the note
// store's transaction: a note can exist in Postgres without being
// searchable yet, and during a reindex it is briefly absent from the index
// entirely. Reconciliation of that gap is a caller concern.
package search

import (
	"context"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/cryptox"
)

// Vector field names in the index; these are the only vector fields a note
// document has.
const (
	FieldTitleVector = "title_vector"
	FieldBodyVector  = "body_vector"
)

// Knn clause sizing, per vector field.
const (
	knnCandidates = 15
	knnLimit      = 3
)

// keywordLimit caps keyword-mode results.
const keywordLimit = 10

// Query is a tenant-scoped index query: either keyword matching on the
// document's text fields or nearest-neighbor search over its encrypted
// vectors. Whatever the variant, the executed query always carries a
// mandatory tenant filter.
type Query interface {
	isQuery()
}

// Keyword matches any of the given fields (OR semantics). Nil fields are
// left out of the clause.
type Keyword struct {
	Title *string
	Body  *string
}

func (Keyword) isQuery() {}

// Knn holds one encrypted query vector per vector field name.
type Knn struct {
	Vectors map[string][]float32
}

func (Knn) isQuery() {}

// Index is the synchronizer's interface.
type Index interface {
	// EnsureCollection creates the index collection and its payload indexes
	// if they do not exist yet.
	EnsureCollection(ctx context.Context) error

	// IndexNote upserts the note's document, keyed by note id.
	IndexNote(ctx context.Context, noteID int64, org, title, body string, vectors map[string]cryptox.CipherVector) error

	// ReindexNote deletes the note's document and inserts the new one.
	// The two steps are separate index calls and are not atomic.
	ReindexNote(ctx context.Context, noteID int64, org, title, body string, vectors map[string]cryptox.CipherVector) error

	// QueryNotes runs the query under the tenant's filter and returns note
	// ids in relevance order, best first.
	QueryNotes(ctx context.Context, org string, q Query) ([]int64, error)
}
