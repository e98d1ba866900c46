package organizations

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IronCoreLabs/saas-shield-demo-notes-app/internal/common"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestGetByLogin_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`SELECT id, login, name, created, updated FROM organization WHERE login = \$1`)
	now := time.Now()

	mock.ExpectQuery(q.String()).
		WithArgs("org1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "login", "name", "created", "updated"}).
			AddRow(int64(1), "org1", "Pro-tato Masher Inc", now, now))

	org, err := repo.GetByLogin(context.Background(), "org1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org.ID != 1 || org.Login != "org1" || org.Name != "Pro-tato Masher Inc" {
		t.Fatalf("org mismatch: %+v", org)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetByLogin_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, login, name, created, updated FROM organization`).
		WithArgs("org3").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetByLogin(context.Background(), "org3"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGetByLogin_StorageError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, login, name, created, updated FROM organization`).
		WithArgs("org1").
		WillReturnError(errors.New("connection reset"))

	if _, err := repo.GetByLogin(context.Background(), "org1"); !errors.Is(err, common.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
}
