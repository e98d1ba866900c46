package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/common"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/cryptox"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/dbx"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/logging"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/models"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/attachments"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/notes"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/repositories/organizations"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/server/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeOrgsRepo struct {
	orgs map[string]*models.Organization
}

func (f *fakeOrgsRepo) GetByLogin(_ context.Context, login string) (*models.Organization, error) {
	org, ok := f.orgs[login]
	if !ok {
		return nil, common.ErrNotFound
	}
	return org, nil
}

type fakeNotesRepo struct {
	rows   map[int64]*models.NoteRow
	nextID int64
}

func (f *fakeNotesRepo) Insert(_ context.Context, orgID int64, enc models.EncryptedNote) (*models.NoteRow, error) {
	f.nextID++
	row := &models.NoteRow{
		ID: f.nextID, OrgID: orgID,
		Title: enc.Title, Body: enc.Body, Category: enc.Category, Edek: enc.Edek,
		Created: time.Now(), Updated: time.Now(),
	}
	f.rows[row.ID] = row
	return row, nil
}

func (f *fakeNotesRepo) Update(_ context.Context, id, orgID int64, enc models.EncryptedNote) (*models.NoteRow, error) {
	row, ok := f.rows[id]
	if !ok || row.OrgID != orgID {
		return nil, common.ErrNotFound
	}
	row.Title, row.Body, row.Category, row.Edek = enc.Title, enc.Body, enc.Category, enc.Edek
	row.Updated = time.Now()
	return row, nil
}

func (f *fakeNotesRepo) Get(_ context.Context, id, orgID int64) (*models.NoteRow, error) {
	row, ok := f.rows[id]
	if !ok || row.OrgID != orgID {
		return nil, common.ErrNotFound
	}
	return row, nil
}

func (f *fakeNotesRepo) List(_ context.Context, orgID int64) ([]*models.NoteRow, error) {
	var out []*models.NoteRow
	for id := int64(1); id <= f.nextID; id++ {
		if row, ok := f.rows[id]; ok && row.OrgID == orgID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeNotesRepo) ListByCategory(ctx context.Context, orgID int64, category cryptox.Deterministic) ([]*models.NoteRow, error) {
	all, _ := f.List(ctx, orgID)
	var out []*models.NoteRow
	for _, row := range all {
		if row.Category != nil && *row.Category == category {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeNotesRepo) SelectByIDs(_ context.Context, orgID int64, ids []int64) ([]*models.NoteRow, error) {
	var out []*models.NoteRow
	for _, id := range ids {
		if row, ok := f.rows[id]; ok && row.OrgID == orgID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeNotesRepo) ListCategories(ctx context.Context, orgID int64) ([]cryptox.Deterministic, error) {
	all, _ := f.List(ctx, orgID)
	seen := map[cryptox.Deterministic]bool{}
	var out []cryptox.Deterministic
	for _, row := range all {
		if row.Category != nil && !seen[*row.Category] {
			seen[*row.Category] = true
			out = append(out, *row.Category)
		}
	}
	return out, nil
}

func (f *fakeNotesRepo) GetEdek(_ context.Context, id, orgID int64) (cryptox.EDEK, error) {
	row, ok := f.rows[id]
	if !ok || row.OrgID != orgID {
		return "", common.ErrNotFound
	}
	return row.Edek, nil
}

func (f *fakeNotesRepo) PutEdek(_ context.Context, id, orgID int64, edek cryptox.EDEK) (int64, error) {
	row, ok := f.rows[id]
	if !ok || row.OrgID != orgID {
		return 0, nil
	}
	row.Edek = edek
	return 1, nil
}

type fakeAttachmentsRepo struct {
	rows   map[int64]*models.Attachment
	nextID int64
}

func (f *fakeAttachmentsRepo) Insert(_ context.Context, filename string) (*models.Attachment, error) {
	f.nextID++
	a := &models.Attachment{ID: f.nextID, Filename: filename, Created: time.Now()}
	f.rows[a.ID] = a
	return a, nil
}

func (f *fakeAttachmentsRepo) Assign(_ context.Context, id, noteID int64) (*models.Attachment, error) {
	a, ok := f.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	a.NoteID = &noteID
	return a, nil
}

func (f *fakeAttachmentsRepo) ClearNote(_ context.Context, noteID int64) error {
	for _, a := range f.rows {
		if a.NoteID != nil && *a.NoteID == noteID {
			a.NoteID = nil
		}
	}
	return nil
}

func (f *fakeAttachmentsRepo) ListByNote(_ context.Context, noteID int64) ([]*models.Attachment, error) {
	var out []*models.Attachment
	for id := int64(1); id <= f.nextID; id++ {
		if a, ok := f.rows[id]; ok && a.NoteID != nil && *a.NoteID == noteID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeRepoManager struct {
	orgs        *fakeOrgsRepo
	notes       *fakeNotesRepo
	attachments *fakeAttachmentsRepo
}

func (f *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error     { return nil }
func (f *fakeRepoManager) Organizations(dbx.DBTX) organizations.Repository { return f.orgs }
func (f *fakeRepoManager) Notes(dbx.DBTX) notes.Repository                 { return f.notes }
func (f *fakeRepoManager) Attachments(dbx.DBTX) attachments.Repository     { return f.attachments }

type indexedDoc struct {
	noteID  int64
	org     string
	title   string
	body    string
	vectors map[string]cryptox.CipherVector
}

type fakeIndex struct {
	indexed   []indexedDoc
	reindexed []indexedDoc
	queries   []search.Query
	queryIDs  []int64
	indexErr  error
	queryErr  error
}

func (f *fakeIndex) EnsureCollection(context.Context) error { return nil }

func (f *fakeIndex) IndexNote(_ context.Context, noteID int64, org, title, body string, vectors map[string]cryptox.CipherVector) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, indexedDoc{noteID, org, title, body, vectors})
	return nil
}

func (f *fakeIndex) ReindexNote(_ context.Context, noteID int64, org, title, body string, vectors map[string]cryptox.CipherVector) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.reindexed = append(f.reindexed, indexedDoc{noteID, org, title, body, vectors})
	return nil
}

func (f *fakeIndex) QueryNotes(_ context.Context, _ string, q search.Query) ([]int64, error) {
	f.queries = append(f.queries, q)
	return f.queryIDs, f.queryErr
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32(len(text) + i + j)
		}
		out[i] = v
	}
	return out, nil
}

type fakeChatter struct {
	prompt string
	answer string
}

func (f *fakeChatter) Chat(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, nil
}

type fakePresigner struct{}

func (fakePresigner) PutURL(_ context.Context, key string) (string, error) {
	return "https://files.test/put/" + key, nil
}

func (fakePresigner) GetURL(_ context.Context, key, contentType string) (string, error) {
	url := "https://files.test/get/" + key
	if contentType != "" {
		url += "?response-content-type=" + contentType
	}
	return url, nil
}

// --- harness ---

type harness struct {
	svc     *NoteService
	mock    sqlmock.Sqlmock
	notes   *fakeNotesRepo
	files   *fakeAttachmentsRepo
	index   *fakeIndex
	chatter *fakeChatter
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	provider, err := cryptox.NewLocalProvider(cryptox.LocalConfig{
		StandardSecrets:     map[uint32][]byte{1: []byte("standard-secret-version-one.....")},
		CurrentVersion:      1,
		DeterministicSecret: []byte("deterministic-secret-16+"),
		VectorSecret:        []byte("vector-secret-16-bytes+."),
	})
	require.NoError(t, err)

	rm := &fakeRepoManager{
		orgs: &fakeOrgsRepo{orgs: map[string]*models.Organization{
			"org1": {ID: 1, Login: "org1", Name: "Pro-tato Masher Inc"},
			"org2": {ID: 2, Login: "org2", Name: "Veggie Fan Club"},
		}},
		notes:       &fakeNotesRepo{rows: map[int64]*models.NoteRow{}},
		attachments: &fakeAttachmentsRepo{rows: map[int64]*models.Attachment{}},
	}

	index := &fakeIndex{}
	chatter := &fakeChatter{answer: "mash them"}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	svc := NewNoteService(db, rm, provider, index, &fakeEmbedder{}, chatter, fakePresigner{}, logger)

	return &harness{svc: svc, mock: mock, notes: rm.notes, files: rm.attachments, index: index, chatter: chatter}
}

func (h *harness) expectTx() {
	h.mock.ExpectBegin()
	h.mock.ExpectCommit()
}

func strPtr(s string) *string { return &s }

// --- tests ---

func TestCreate_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	file, err := h.files.Insert(ctx, "potato.jpg")
	require.NoError(t, err)

	h.expectTx()
	note, err := h.svc.Create(ctx, "org1", NoteInput{
		Title:         "Mashing tips",
		Body:          "Boil before you mash.",
		Category:      strPtr("recipes"),
		AttachmentIDs: []int64{file.ID},
	})
	require.NoError(t, err)

	assert.Equal(t, "Mashing tips", note.Title)
	assert.Equal(t, "Boil before you mash.", note.Body)
	require.NotNil(t, note.Category)
	assert.Equal(t, "recipes", *note.Category)
	require.Len(t, note.Attachments, 1)
	assert.Equal(t, "potato.jpg", note.Attachments[0].Filename)
	assert.Equal(t, "https://files.test/get/org1/1-potato.jpg?response-content-type=image/jpeg", note.Attachments[0].URL)

	// The stored row holds ciphertext, not the input.
	row := h.notes.rows[note.ID]
	assert.NotEqual(t, "Mashing tips", string(row.Title))
	assert.NotEqual(t, "Boil before you mash.", string(row.Body))
	assert.NotEmpty(t, row.Edek)

	// The index got the document with both encrypted vectors.
	require.Len(t, h.index.indexed, 1)
	doc := h.index.indexed[0]
	assert.Equal(t, note.ID, doc.noteID)
	assert.Equal(t, "org1", doc.org)
	assert.Equal(t, "Mashing tips", doc.title)
	assert.Len(t, doc.vectors[search.FieldTitleVector], 8)
	assert.Len(t, doc.vectors[search.FieldBodyVector], 8)

	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestCreate_SkipsUnknownAttachments(t *testing.T) {
	h := newHarness(t)

	h.expectTx()
	note, err := h.svc.Create(context.Background(), "org1", NoteInput{
		Title: "t", Body: "b", AttachmentIDs: []int64{55},
	})
	require.NoError(t, err)
	assert.Empty(t, note.Attachments)
}

func TestCreate_UnknownOrganization(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Create(context.Background(), "org3", NoteInput{Title: "t", Body: "b"})
	require.ErrorIs(t, err, common.ErrAuthentication)
}

func TestCreate_IndexFailureAfterCommit(t *testing.T) {
	h := newHarness(t)
	h.index.indexErr = errors.New("index unavailable")

	h.expectTx()
	_, err := h.svc.Create(context.Background(), "org1", NoteInput{Title: "t", Body: "b"})
	require.Error(t, err)
	// The row committed before the index write failed: stored, not searchable.
	assert.Len(t, h.notes.rows, 1)
}

func TestUpdate_ReplacesContentAndAttachments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old, err := h.files.Insert(ctx, "old.txt")
	require.NoError(t, err)
	newer, err := h.files.Insert(ctx, "new.txt")
	require.NoError(t, err)

	h.expectTx()
	note, err := h.svc.Create(ctx, "org1", NoteInput{Title: "t", Body: "b", AttachmentIDs: []int64{old.ID}})
	require.NoError(t, err)
	firstEdek := h.notes.rows[note.ID].Edek

	h.expectTx()
	updated, err := h.svc.Update(ctx, "org1", note.ID, NoteInput{
		Title: "t2", Body: "b2", AttachmentIDs: []int64{newer.ID},
	})
	require.NoError(t, err)

	assert.Equal(t, "t2", updated.Title)
	require.Len(t, updated.Attachments, 1)
	assert.Equal(t, "new.txt", updated.Attachments[0].Filename)
	assert.Nil(t, h.files.rows[old.ID].NoteID, "previous attachment was detached")

	// Fresh document key on every write.
	assert.NotEqual(t, firstEdek, h.notes.rows[note.ID].Edek)

	require.Len(t, h.index.reindexed, 1)
	assert.Equal(t, note.ID, h.index.reindexed[0].noteID)
}

func TestUpdate_NotFound(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectBegin()
	h.mock.ExpectRollback()
	_, err := h.svc.Update(context.Background(), "org1", 99, NoteInput{Title: "t", Body: "b"})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestGet_AbsentReturnsNil(t *testing.T) {
	h := newHarness(t)

	note, err := h.svc.Get(context.Background(), "org1", 99)
	require.NoError(t, err)
	assert.Nil(t, note)
}

func TestGet_OtherTenantInvisible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.expectTx()
	note, err := h.svc.Create(ctx, "org1", NoteInput{Title: "secret", Body: "b"})
	require.NoError(t, err)

	got, err := h.svc.Get(ctx, "org2", note.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "another tenant's note reads as absent")
}

func TestList_CategoryFilter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.expectTx()
	_, err := h.svc.Create(ctx, "org1", NoteInput{Title: "a", Body: "b", Category: strPtr("recipes")})
	require.NoError(t, err)
	h.expectTx()
	_, err = h.svc.Create(ctx, "org1", NoteInput{Title: "c", Body: "d", Category: strPtr("todo")})
	require.NoError(t, err)
	h.expectTx()
	_, err = h.svc.Create(ctx, "org1", NoteInput{Title: "e", Body: "f"})
	require.NoError(t, err)

	all, err := h.svc.List(ctx, "org1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Nil(t, all[2].Category)

	recipes, err := h.svc.List(ctx, "org1", strPtr("recipes"))
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "a", recipes[0].Title)

	none, err := h.svc.List(ctx, "org1", strPtr("absent"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCategories_SortedPlaintext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, category := range []string{"todo", "recipes", "todo"} {
		h.expectTx()
		_, err := h.svc.Create(ctx, "org1", NoteInput{Title: "t", Body: "b", Category: strPtr(category)})
		require.NoError(t, err)
	}

	categories, err := h.svc.Categories(ctx, "org1")
	require.NoError(t, err)
	assert.Equal(t, []string{"recipes", "todo"}, categories)
}

func TestSearch_RestoresRankOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ids []int64
	for _, title := range []string{"first", "second", "third"} {
		h.expectTx()
		note, err := h.svc.Create(ctx, "org1", NoteInput{Title: title, Body: "b"})
		require.NoError(t, err)
		ids = append(ids, note.ID)
	}

	// Index ranks third best, then first; 999 no longer exists in the store.
	h.index.queryIDs = []int64{ids[2], 999, ids[0]}

	results, err := h.svc.Search(ctx, "org1", strPtr("potato"), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "third", results[0].Title)
	assert.Equal(t, "first", results[1].Title)

	require.Len(t, h.index.queries, 1)
	_, ok := h.index.queries[0].(search.Keyword)
	assert.True(t, ok)
}

func TestChat_GroundsAnswerOnTopNote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.expectTx()
	note, err := h.svc.Create(ctx, "org1", NoteInput{Title: "Mashing tips", Body: "Boil first."})
	require.NoError(t, err)

	h.index.queryIDs = []int64{note.ID}

	answer, grounding, err := h.svc.Chat(ctx, "org1", "how do I mash potatoes?")
	require.NoError(t, err)
	assert.Equal(t, "mash them", answer)
	require.NotNil(t, grounding)
	assert.Equal(t, note.ID, grounding.ID)
	assert.Contains(t, h.chatter.prompt, "Mashing tips")
	assert.Contains(t, h.chatter.prompt, "how do I mash potatoes?")

	// The knn query went out with encrypted query vectors for both fields.
	knn, ok := h.index.queries[0].(search.Knn)
	require.True(t, ok)
	assert.Len(t, knn.Vectors, 2)
}

func TestChat_NoMatchAnswersUnassisted(t *testing.T) {
	h := newHarness(t)

	answer, grounding, err := h.svc.Chat(context.Background(), "org1", "anything?")
	require.NoError(t, err)
	assert.Equal(t, "mash them", answer)
	assert.Nil(t, grounding)
	assert.Equal(t, "anything?", h.chatter.prompt)
}

func TestRekey_RewrapsWithoutTouchingCiphertext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.expectTx()
	note, err := h.svc.Create(ctx, "org1", NoteInput{Title: "t", Body: "b", Category: strPtr("c")})
	require.NoError(t, err)

	row := h.notes.rows[note.ID]
	title, body, category, edek := row.Title, row.Body, *row.Category, row.Edek

	require.NoError(t, h.svc.Rekey(ctx, "org1", note.ID))
	assert.NotEqual(t, edek, row.Edek, "wrapped key changed")
	assert.Equal(t, title, row.Title, "field ciphertext untouched")
	assert.Equal(t, body, row.Body)
	assert.Equal(t, category, *row.Category)

	// Twice in a row works; the note still decrypts.
	require.NoError(t, h.svc.Rekey(ctx, "org1", note.ID))
	got, err := h.svc.Get(ctx, "org1", note.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t", got.Title)
}

func TestRekey_NotFound(t *testing.T) {
	h := newHarness(t)

	err := h.svc.Rekey(context.Background(), "org1", 99)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateAttachment_PresignsBothDirections(t *testing.T) {
	h := newHarness(t)

	a, err := h.svc.CreateAttachment(context.Background(), "org1", "potato.jpg")
	require.NoError(t, err)

	key := fmt.Sprintf("org1/%d-potato.jpg", a.ID)
	assert.Equal(t, "https://files.test/put/"+key, a.PresignedPutURL)
	assert.Equal(t, "https://files.test/get/"+key+"?response-content-type=image/jpeg", a.URL)
	assert.Nil(t, a.NoteID)
}
