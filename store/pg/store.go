package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	fleetauth "github.com/fleetdesk/fleetauth"
)

var _ fleetauth.PrincipalStore = (*Store)(nil)
var _ fleetauth.LoginAttemptStore = (*Store)(nil)

// Store reads and writes principals, backup codes, and login attempts.
type Store struct {
	db *sql.DB
}

// Open connects with pooled defaults tuned for request-path traffic.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle (tests, shared pools).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

// Ping is a trivial liveness check, suitable as the circuit breaker's probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const principalColumns = `id, email, name, password_hash, role, status, mfa_enabled, mfa_secret, failed_mfa_attempts, created_at`

func (s *Store) GetByEmail(ctx context.Context, email string) (*fleetauth.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where email = $1`, email)
	return scanPrincipal(row)
}

func (s *Store) GetByID(ctx context.Context, id string) (*fleetauth.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where id = $1`, id)
	return scanPrincipal(row)
}

func scanPrincipal(row *sql.Row) (*fleetauth.Principal, error) {
	var (
		p      fleetauth.Principal
		status int16
		secret []byte
	)
	err := row.Scan(&p.ID, &p.Email, &p.Name, &p.PasswordHash, &p.Role,
		&status, &p.MFAEnabled, &secret, &p.FailedMFAAttempts, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fleetauth.ErrPrincipalNotFound
		}
		return nil, err
	}
	p.Status = fleetauth.AccountStatus(status)
	p.MFASecret = secret
	return &p, nil
}

func (s *Store) SetMFA(ctx context.Context, id string, enabled bool, secret []byte) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set mfa_enabled = $2, mfa_secret = $3 where id = $1`,
		id, enabled, secret)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) SetStatus(ctx context.Context, id string, status fleetauth.AccountStatus) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set status = $2 where id = $1`, id, int16(status))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// IncrementFailedMFA bumps the counter in a single statement so concurrent
// failures cannot lose updates.
func (s *Store) IncrementFailedMFA(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`update principals set failed_mfa_attempts = failed_mfa_attempts + 1
		 where id = $1 returning failed_mfa_attempts`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fleetauth.ErrPrincipalNotFound
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetFailedMFA(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set failed_mfa_attempts = 0 where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, codes []fleetauth.BackupCodeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from backup_codes where principal_id = $1`, id); err != nil {
		return err
	}
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx,
			`insert into backup_codes(principal_id, code_hash) values($1, $2)`,
			id, code.Hash[:]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetBackupCodes(ctx context.Context, id string) ([]fleetauth.BackupCodeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`select code_hash from backup_codes where principal_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []fleetauth.BackupCodeRecord
	for rows.Next() {
		var hash []byte
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		var record fleetauth.BackupCodeRecord
		copy(record.Hash[:], hash)
		records = append(records, record)
	}
	return records, rows.Err()
}

// ConsumeBackupCode is the atomic single-use guarantee: the conditional
// delete either removes exactly the presented code or touches nothing, so
// two concurrent presentations cannot both succeed.
func (s *Store) ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from backup_codes where principal_id = $1 and code_hash = $2`,
		id, hash[:])
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) Append(ctx context.Context, attempt fleetauth.LoginAttempt) error {
	principalID := sql.NullString{String: attempt.PrincipalID, Valid: attempt.PrincipalID != ""}
	_, err := s.db.ExecContext(ctx,
		`insert into login_attempts(principal_id, address, attempted_at, success)
		 values($1, $2, $3, $4)`,
		principalID, attempt.Address, attempt.At, attempt.Success)
	return err
}

func (s *Store) CountRecentFailures(ctx context.Context, principalID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from login_attempts
		 where principal_id = $1 and success = false and attempted_at >= $2`,
		principalID, since).Scan(&count)
	return count, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fleetauth.ErrPrincipalNotFound
	}
	return nil
}
