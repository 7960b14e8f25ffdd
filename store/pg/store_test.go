package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	fleetauth "github.com/fleetdesk/fleetauth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return NewStore(db), mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	}
}

func principalRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "name", "password_hash", "role", "status",
		"mfa_enabled", "mfa_secret", "failed_mfa_attempts", "created_at",
	})
}

func TestGetByEmail(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`select `+principalColumns+` from principals where email = $1`)).
		WithArgs("driver@fleetdesk.example").
		WillReturnRows(principalRows().AddRow(
			"p-1", "driver@fleetdesk.example", "Jamie", "$argon2id$...", "driver",
			int16(0), true, []byte("secret"), 2, created,
		))

	p, err := store.GetByEmail(context.Background(), "driver@fleetdesk.example")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if p.ID != "p-1" || p.Status != fleetauth.AccountActive {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if !p.MFAEnabled || string(p.MFASecret) != "secret" {
		t.Fatalf("MFA fields lost: %+v", p)
	}
	if p.FailedMFAAttempts != 2 || !p.CreatedAt.Equal(created) {
		t.Fatalf("counter/timestamp lost: %+v", p)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`select `+principalColumns+` from principals where id = $1`)).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetByID(context.Background(), "ghost"); !errors.Is(err, fleetauth.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestIncrementFailedMFA(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(
		`update principals set failed_mfa_attempts = failed_mfa_attempts + 1 where id = $1 returning failed_mfa_attempts`)).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"failed_mfa_attempts"}).AddRow(4))

	count, err := store.IncrementFailedMFA(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("IncrementFailedMFA: %v", err)
	}
	if count != 4 {
		t.Fatalf("count = %d, want 4", count)
	}
}

func TestIncrementFailedMFAMissingPrincipal(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(
		`update principals set failed_mfa_attempts = failed_mfa_attempts + 1 where id = $1 returning failed_mfa_attempts`)).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.IncrementFailedMFA(context.Background(), "ghost"); !errors.Is(err, fleetauth.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestSetStatusMissingPrincipal(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`update principals set status = $2 where id = $1`)).
		WithArgs("ghost", int16(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetStatus(context.Background(), "ghost", fleetauth.AccountLocked)
	if !errors.Is(err, fleetauth.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestConsumeBackupCode(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	var hash [32]byte
	copy(hash[:], "0123456789abcdef0123456789abcdef")

	query := regexp.QuoteMeta(`delete from backup_codes where principal_id = $1 and code_hash = $2`)

	mock.ExpectExec(query).
		WithArgs("p-1", hash[:]).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.ConsumeBackupCode(context.Background(), "p-1", hash)
	if err != nil {
		t.Fatalf("ConsumeBackupCode: %v", err)
	}
	if !ok {
		t.Fatal("a deleted row means the code was consumed")
	}

	// The same statement touching zero rows means someone else already
	// consumed the code.
	mock.ExpectExec(query).
		WithArgs("p-1", hash[:]).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.ConsumeBackupCode(context.Background(), "p-1", hash)
	if err != nil {
		t.Fatalf("ConsumeBackupCode: %v", err)
	}
	if ok {
		t.Fatal("zero rows affected must report the code as already spent")
	}
}

func TestReplaceBackupCodesIsTransactional(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	var a, b [32]byte
	a[0], b[0] = 1, 2

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`delete from backup_codes where principal_id = $1`)).
		WithArgs("p-1").
		WillReturnResult(sqlmock.NewResult(0, 8))
	insert := regexp.QuoteMeta(`insert into backup_codes(principal_id, code_hash) values($1, $2)`)
	mock.ExpectExec(insert).WithArgs("p-1", a[:]).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WithArgs("p-1", b[:]).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ReplaceBackupCodes(context.Background(), "p-1",
		[]fleetauth.BackupCodeRecord{{Hash: a}, {Hash: b}})
	if err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}
}

func TestReplaceBackupCodesRollsBackOnFailure(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	var a [32]byte
	a[0] = 1

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`delete from backup_codes where principal_id = $1`)).
		WithArgs("p-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`insert into backup_codes(principal_id, code_hash) values($1, $2)`)).
		WithArgs("p-1", a[:]).
		WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	err := store.ReplaceBackupCodes(context.Background(), "p-1",
		[]fleetauth.BackupCodeRecord{{Hash: a}})
	if err == nil {
		t.Fatal("expected the insert failure to surface")
	}
}

func TestAppendAnonymousAttempt(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	at := time.Now()
	mock.ExpectExec(regexp.QuoteMeta(
		`insert into login_attempts(principal_id, address, attempted_at, success) values($1, $2, $3, $4)`)).
		WithArgs(sql.NullString{}, "203.0.113.7", at, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	// An unknown email is recorded with a null principal id.
	err := store.Append(context.Background(), fleetauth.LoginAttempt{
		Address: "203.0.113.7",
		At:      at,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestCountRecentFailures(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	since := time.Now().Add(-15 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta(
		`select count(*) from login_attempts where principal_id = $1 and success = false and attempted_at >= $2`)).
		WithArgs("p-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	count, err := store.CountRecentFailures(context.Background(), "p-1", since)
	if err != nil {
		t.Fatalf("CountRecentFailures: %v", err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
}
