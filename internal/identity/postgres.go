package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"authcore.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const identityColumns = `id, email, username, password_hash, full_name, avatar_url, role,
	active, verified, superuser, failed_attempts, locked_until, last_login,
	email_verified_at, provider, provider_subject, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, id *Identity) error {
	if id.ID == "" {
		id.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into identities(id, email, username, password_hash, full_name, avatar_url,
		 role, active, verified, superuser, provider, provider_subject)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		id.ID, strings.ToLower(id.Email), id.Username, nullString(id.PasswordHash),
		id.FullName, id.AvatarURL, string(id.Role), id.Active, id.Verified, id.Superuser,
		nullString(id.Provider), nullString(id.ProviderSubject),
	)
	return mapConflict(err)
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*Identity, error) {
	return s.findBy(ctx, `id=$1`, id)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	return s.findBy(ctx, `email=lower($1)`, email)
}

func (s *PGStore) FindByUsername(ctx context.Context, username string) (*Identity, error) {
	return s.findBy(ctx, `username=$1`, username)
}

func (s *PGStore) FindByProvider(ctx context.Context, provider, subject string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where provider=$1 and provider_subject=$2`,
		provider, subject)
	return scanIdentity(row)
}

func (s *PGStore) findBy(ctx context.Context, where string, arg any) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where `+where, arg)
	return scanIdentity(row)
}

func (s *PGStore) Update(ctx context.Context, id *Identity) error {
	res, err := s.db.ExecContext(ctx,
		`update identities set email=lower($2), username=$3, password_hash=$4, full_name=$5,
		 avatar_url=$6, role=$7, active=$8, verified=$9, superuser=$10,
		 email_verified_at=$11, provider=$12, provider_subject=$13, updated_at=now()
		 where id=$1`,
		id.ID, id.Email, id.Username, nullString(id.PasswordHash), id.FullName,
		id.AvatarURL, string(id.Role), id.Active, id.Verified, id.Superuser,
		id.EmailVerifiedAt, nullString(id.Provider), nullString(id.ProviderSubject),
	)
	if err != nil {
		return mapConflict(err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PGStore) RecordFailure(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`update identities set failed_attempts = failed_attempts + 1, updated_at=now()
		 where id=$1 returning failed_attempts`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return count, err
}

func (s *PGStore) SetLock(ctx context.Context, id string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update identities set locked_until=$2, updated_at=now() where id=$1`, id, until)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PGStore) ClearLock(ctx context.Context, id string, lastLogin time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update identities set failed_attempts=0, locked_until=null, last_login=$2,
		 updated_at=now() where id=$1`, id, lastLogin)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PGStore) UnlockExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update identities set failed_attempts=0, locked_until=null, updated_at=now()
		 where locked_until is not null and locked_until <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		ident           Identity
		passwordHash    sql.NullString
		provider        sql.NullString
		providerSubject sql.NullString
		role            string
		lockedUntil     sql.NullTime
		lastLogin       sql.NullTime
		emailVerifiedAt sql.NullTime
	)
	err := row.Scan(&ident.ID, &ident.Email, &ident.Username, &passwordHash,
		&ident.FullName, &ident.AvatarURL, &role, &ident.Active, &ident.Verified,
		&ident.Superuser, &ident.FailedAttempts, &lockedUntil, &lastLogin,
		&emailVerifiedAt, &provider, &providerSubject, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ident.PasswordHash = passwordHash.String
	ident.Provider = provider.String
	ident.ProviderSubject = providerSubject.String
	ident.Role = Role(role)
	if lockedUntil.Valid {
		t := lockedUntil.Time
		ident.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		ident.LastLogin = &t
	}
	if emailVerifiedAt.Valid {
		t := emailVerifiedAt.Time
		ident.EmailVerifiedAt = &t
	}
	return &ident, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch {
		case strings.Contains(pgErr.ConstraintName, "email"):
			return ErrEmailTaken
		case strings.Contains(pgErr.ConstraintName, "username"):
			return ErrUsernameTaken
		case strings.Contains(pgErr.ConstraintName, "provider"):
			return ErrProviderLinked
		}
	}
	return err
}
