// Package services orchestrates the note lifecycle: encrypt-then-store,
// search-then-decrypt, attachment presigning and key rotation. Plaintext
// exists only inside a service call; everything that crosses a process
// boundary below this layer is ciphertext plus searchable metadata.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/common"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/cryptox"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/dbx"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/logging"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/embeddings"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/models"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/repomanager"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/search"
)

// Ciphertext field and label names. The field names double as AEAD
// associated data, so renaming one invalidates stored ciphertext.
const (
	fieldTitle = "title"
	fieldBody  = "body"

	labelCategory  = "note/category"
	labelEmbedding = "note/embedding"
)

// chatPrompt frames the retrieved note as grounding for the model.
const chatPrompt = `Use the following note to answer the question.

Title: %s
Body: %s

Question: %s`

// NoteInput is a plaintext note write. AttachmentIDs name previously
// registered attachments; unknown ids are skipped, not rejected.
type NoteInput struct {
	Title         string
	Body          string
	Category      *string
	AttachmentIDs []int64
}

// NoteService implements the note operations for one process. Every method
// takes the tenant's login; nothing here can touch another tenant's rows,
// ciphertext or index entries.
type NoteService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	provider    cryptox.Provider
	index       search.Index
	embedder    embeddings.Generator
	chatter     embeddings.Chatter
	presigner   Presigner
	logger      logging.Logger
}

func NewNoteService(
	db *sql.DB,
	rm repomanager.RepositoryManager,
	provider cryptox.Provider,
	index search.Index,
	embedder embeddings.Generator,
	chatter embeddings.Chatter,
	presigner Presigner,
	logger logging.Logger,
) *NoteService {
	return &NoteService{
		db:          db,
		repomanager: rm,
		provider:    provider,
		index:       index,
		embedder:    embedder,
		chatter:     chatter,
		presigner:   presigner,
		logger:      logger.With("component", "notes"),
	}
}

// organization resolves the tenant. An unknown login is an authentication
// failure, not a not-found: callers below this point must always hold a
// real tenant.
func (s *NoteService) organization(ctx context.Context, login string) (*models.Organization, error) {
	org, err := s.repomanager.Organizations(s.db).GetByLogin(ctx, login)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown organization %q", common.ErrAuthentication, login)
	}
	if err != nil {
		return nil, err
	}
	return org, nil
}

// encrypt turns a plaintext write into its stored form: title and body
// under one fresh document key, category (if any) deterministically.
func (s *NoteService) encrypt(ctx context.Context, login string, in NoteInput) (models.EncryptedNote, error) {
	fields, edek, err := s.provider.EncryptDocument(ctx, login, map[string][]byte{
		fieldTitle: []byte(in.Title),
		fieldBody:  []byte(in.Body),
	})
	if err != nil {
		return models.EncryptedNote{}, err
	}

	enc := models.EncryptedNote{
		Title: fields[fieldTitle],
		Body:  fields[fieldBody],
		Edek:  edek,
	}

	if in.Category != nil {
		category, err := s.provider.EncryptDeterministic(ctx, login, labelCategory, []byte(*in.Category))
		if err != nil {
			return models.EncryptedNote{}, err
		}
		enc.Category = &category
	}

	return enc, nil
}

// decryptRow is the inverse of encrypt; attachments are filled in separately.
func (s *NoteService) decryptRow(ctx context.Context, login string, row *models.NoteRow) (*models.Note, error) {
	fields, err := s.provider.DecryptDocument(ctx, login, map[string]cryptox.Opaque{
		fieldTitle: row.Title,
		fieldBody:  row.Body,
	}, row.Edek)
	if err != nil {
		return nil, err
	}

	note := &models.Note{
		ID:      row.ID,
		Title:   string(fields[fieldTitle]),
		Body:    string(fields[fieldBody]),
		Created: row.Created,
		Updated: row.Updated,
	}

	if row.Category != nil {
		plain, err := s.provider.DecryptDeterministic(ctx, login, labelCategory, *row.Category)
		if err != nil {
			return nil, err
		}
		category := string(plain)
		note.Category = &category
	}

	return note, nil
}

// storageKey is the object key of an attachment's bytes. The login prefix
// keeps tenants in disjoint key spaces.
func storageKey(login string, id int64, filename string) string {
	return fmt.Sprintf("%s/%d-%s", login, id, filename)
}

// attachmentInfos resolves a note's attachments into download links.
func (s *NoteService) attachmentInfos(ctx context.Context, login string, noteID int64) ([]models.AttachmentInfo, error) {
	rows, err := s.repomanager.Attachments(s.db).ListByNote(ctx, noteID)
	if err != nil {
		return nil, err
	}

	infos := make([]models.AttachmentInfo, 0, len(rows))
	for _, a := range rows {
		url, err := s.presigner.GetURL(ctx, storageKey(login, a.ID, a.Filename), attachmentContentType(a.Filename))
		if err != nil {
			return nil, fmt.Errorf("presigning attachment %d: %w", a.ID, err)
		}
		infos = append(infos, models.AttachmentInfo{ID: a.ID, Filename: a.Filename, URL: url})
	}
	return infos, nil
}

// buildNote decrypts a row and attaches its download links.
func (s *NoteService) buildNote(ctx context.Context, login string, row *models.NoteRow) (*models.Note, error) {
	note, err := s.decryptRow(ctx, login, row)
	if err != nil {
		return nil, err
	}
	infos, err := s.attachmentInfos(ctx, login, row.ID)
	if err != nil {
		return nil, err
	}
	note.Attachments = infos
	return note, nil
}

// assignAttachments points the listed attachments at the note, inside the
// caller's transaction. Unknown ids are skipped silently: the attachment
// may have been garbage-collected between registration and note save.
func (s *NoteService) assignAttachments(ctx context.Context, tx dbx.DBTX, noteID int64, ids []int64) error {
	repo := s.repomanager.Attachments(tx)
	for _, id := range ids {
		if _, err := repo.Assign(ctx, id, noteID); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				s.logger.Warn(ctx, "skipping unknown attachment", "attachment_id", id, "note_id", noteID)
				continue
			}
			return err
		}
	}
	return nil
}

// indexNote embeds the plaintext, encrypts the embeddings and writes the
// index document. This runs after the row transaction has committed; an
// index failure leaves a stored but unsearchable note and is reported to
// the caller rather than compensated.
func (s *NoteService) indexNote(ctx context.Context, login string, noteID int64, title, body string, reindex bool) error {
	raw, err := s.embedder.Embed(ctx, []string{title, body})
	if err != nil {
		return fmt.Errorf("embedding note %d: %w", noteID, err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("embedding note %d: got %d vectors, want 2", noteID, len(raw))
	}

	vectors, err := s.provider.EncryptVectors(ctx, login, labelEmbedding, map[string][]float32{
		search.FieldTitleVector: raw[0],
		search.FieldBodyVector:  raw[1],
	})
	if err != nil {
		return err
	}

	if reindex {
		return s.index.ReindexNote(ctx, noteID, login, title, body, vectors)
	}
	return s.index.IndexNote(ctx, noteID, login, title, body, vectors)
}

// Create encrypts and stores a new note, associates its attachments and
// makes it searchable. Returns the decrypted note as stored.
func (s *NoteService) Create(ctx context.Context, login string, in NoteInput) (*models.Note, error) {
	org, err := s.organization(ctx, login)
	if err != nil {
		return nil, err
	}

	enc, err := s.encrypt(ctx, login, in)
	if err != nil {
		return nil, err
	}

	var row *models.NoteRow
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		row, err = s.repomanager.Notes(tx).Insert(ctx, org.ID, enc)
		if err != nil {
			return err
		}
		return s.assignAttachments(ctx, tx, row.ID, in.AttachmentIDs)
	})
	if err != nil {
		return nil, err
	}

	if err := s.indexNote(ctx, login, row.ID, in.Title, in.Body, false); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "note created", "note_id", row.ID, "org", login)

	return s.buildNote(ctx, login, row)
}

// Update replaces the note's content under a fresh document key and
// replaces its attachment set wholesale: previously attached files that are
// not in the input end up detached. Returns common.ErrNotFound when the
// tenant has no such note.
func (s *NoteService) Update(ctx context.Context, login string, id int64, in NoteInput) (*models.Note, error) {
	org, err := s.organization(ctx, login)
	if err != nil {
		return nil, err
	}

	enc, err := s.encrypt(ctx, login, in)
	if err != nil {
		return nil, err
	}

	var row *models.NoteRow
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		row, err = s.repomanager.Notes(tx).Update(ctx, id, org.ID, enc)
		if err != nil {
			return err
		}
		if err := s.repomanager.Attachments(tx).ClearNote(ctx, id); err != nil {
			return err
		}
		return s.assignAttachments(ctx, tx, id, in.AttachmentIDs)
	})
	if err != nil {
		return nil, err
	}

	if err := s.indexNote(ctx, login, id, in.Title, in.Body, true); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "note updated", "note_id", id, "org", login)

	return s.buildNote(ctx, login, row)
}

// Get returns the tenant's note, or nil without error when it does not
// exist.
func (s *NoteService) Get(ctx context.Context, login string, id int64) (*models.Note, error) {
	org, err := s.organization(ctx, login)
	if err != nil {
		return nil, err
	}

	row, err := s.repomanager.Notes(s.db).Get(ctx, id, org.ID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return s.buildNote(ctx, login, row)
}

// List returns the tenant's notes, optionally restricted to one category.
// The category filter is evaluated on ciphertext: the filter value is
// encrypted once and matched against the stored column byte for byte.
func (s *NoteService) List(ctx context.Context, login string, category *string) ([]*models.Note, error) {
	org, err := s.organization(ctx, login)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Notes(s.db)
	var rows []*models.NoteRow
	if category == nil {
		rows, err = repo.List(ctx, org.ID)
	} else {
		var filter cryptox.Deterministic
		filter, err = s.provider.EncryptDeterministic(ctx, login, labelCategory, []byte(*category))
		if err != nil {
			return nil, err
		}
		rows, err = repo.ListByCategory(ctx, org.ID, filter)
	}
	if err != nil {
		return nil, err
	}

	notes := make([]*models.Note, 0, len(rows))
	for _, row := range rows {
		note, err := s.buildNote(ctx, login, row)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, nil
}

// Categories returns the tenant's distinct categories, decrypted and
// sorted. Sorting happens on plaintext because deterministic ciphertext
// does not preserve order.
func (s *NoteService) Categories(ctx context.Context, login string) ([]string, error) {
	org, err := s.organization(ctx, login)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.repomanager.Notes(s.db).ListCategories(ctx, org.ID)
	if err != nil {
		return nil, err
	}

	categories := make([]string, 0, len(encrypted))
	for _, c := range encrypted {
		plain, err := s.provider.DecryptDeterministic(ctx, login, labelCategory, c)
		if err != nil {
			return nil, err
		}
		categories = append(categories, string(plain))
	}
	sort.Strings(categories)
	return categories, nil
}

// notesByRank fetches the identified rows and returns them decrypted in the
// order ids came in. Ids the store no longer has (deleted between index
// lookup and fetch) are dropped.
func (s *NoteService) notesByRank(ctx context.Context, login string, orgID int64, ids []int64) ([]*models.Note, error) {
	if len(ids) == 0 {
		return []*models.Note{}, nil
	}

	rows, err := s.repomanager.Notes(s.db).SelectByIDs(ctx, orgID, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.NoteRow, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	notes := make([]*models.Note, 0, len(ids))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		note, err := s.buildNote(ctx, login, row)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, nil
}

// Search runs a keyword query over title and/or body and returns matching
// notes in relevance order.
func (s *NoteService) Search(ctx context.Context, login string, title, body *string) ([]*models.Note, error) {
	org, err := s.organization(ctx, login)
	if err != nil {
		return nil, err
	}

	ids, err := s.index.QueryNotes(ctx, login, search.Keyword{Title: title, Body: body})
	if err != nil {
		return nil, err
	}

	return s.notesByRank(ctx, login, org.ID, ids)
}

// ChatContext retrieves the note most similar to the question, or nil when
// the tenant has nothing relevant indexed.
func (s *NoteService) ChatContext(ctx context.Context, login, question string) (*models.Note, error) {
	org, err := s.organization(ctx, login)
	if err != nil {
		return nil, err
	}

	raw, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("embedding question: got %d vectors, want 1", len(raw))
	}

	// The question is matched against both vector fields.
	query, err := s.provider.GenerateQueryVectors(ctx, login, labelEmbedding, map[string][]float32{
		search.FieldTitleVector: raw[0],
		search.FieldBodyVector:  raw[0],
	})
	if err != nil {
		return nil, err
	}

	ids, err := s.index.QueryNotes(ctx, login, search.Knn{Vectors: query})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	notes, err := s.notesByRank(ctx, login, org.ID, ids[:1])
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}
	return notes[0], nil
}

// Chat answers the question with the most similar note as grounding.
// Returns the answer plus the note it was grounded on (nil when no note
// matched and the model answered unassisted).
func (s *NoteService) Chat(ctx context.Context, login, question string) (string, *models.Note, error) {
	note, err := s.ChatContext(ctx, login, question)
	if err != nil {
		return "", nil, err
	}

	prompt := question
	if note != nil {
		prompt = fmt.Sprintf(chatPrompt, note.Title, note.Body, question)
	}

	answer, err := s.chatter.Chat(ctx, prompt)
	if err != nil {
		return "", nil, err
	}
	return answer, note, nil
}

// Rekey re-wraps the note's document key under the tenant's current key
// version. Only the wrapped-key column changes; title and body ciphertext
// stay untouched, as does the deterministic category and the index.
func (s *NoteService) Rekey(ctx context.Context, login string, id int64) error {
	org, err := s.organization(ctx, login)
	if err != nil {
		return err
	}

	repo := s.repomanager.Notes(s.db)
	edek, err := repo.GetEdek(ctx, id, org.ID)
	if err != nil {
		return err
	}

	rewrapped, err := s.provider.RekeyEdek(ctx, login, edek)
	if err != nil {
		return err
	}

	n, err := repo.PutEdek(ctx, id, org.ID, rewrapped)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}

	s.logger.Info(ctx, "note rekeyed", "note_id", id, "org", login)
	return nil
}

// CreateAttachment registers an upload and hands back a presigned PUT URL
// for the bytes plus the GET URL the file will be served from. The
// attachment is unattached until a note write names its id.
func (s *NoteService) CreateAttachment(ctx context.Context, login, filename string) (*models.NewAttachment, error) {
	if _, err := s.organization(ctx, login); err != nil {
		return nil, err
	}

	a, err := s.repomanager.Attachments(s.db).Insert(ctx, filename)
	if err != nil {
		return nil, err
	}

	key := storageKey(login, a.ID, filename)
	putURL, err := s.presigner.PutURL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("presigning upload: %w", err)
	}
	getURL, err := s.presigner.GetURL(ctx, key, attachmentContentType(filename))
	if err != nil {
		return nil, fmt.Errorf("presigning download: %w", err)
	}

	return &models.NewAttachment{
		ID:              a.ID,
		NoteID:          a.NoteID,
		Filename:        a.Filename,
		PresignedPutURL: putURL,
		URL:             getURL,
	}, nil
}
