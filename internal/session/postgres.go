package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authcore.org/internal/ids"
)

var (
	_ Store          = (*PGStore)(nil)
	_ BlacklistStore = (*PGBlacklist)(nil)
)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const sessionColumns = `id, identity_id, refresh_token, access_token_id, ip_address,
	user_agent, device, active, revoked, revoked_at, revoked_reason,
	expires_at, last_used_at, created_at`

func (s *PGStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, identity_id, refresh_token, access_token_id, ip_address,
		 user_agent, device, active, revoked, expires_at, last_used_at)
		 values($1,$2,$3,$4,$5,$6,$7,true,false,$8,$9)`,
		sess.ID, sess.IdentityID, sess.RefreshToken, sess.AccessTokenID,
		sess.IP, sess.UserAgent, sess.Device, sess.ExpiresAt, sess.LastUsedAt,
	)
	return err
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id)
	return scanSession(row)
}

func (s *PGStore) FindByRefreshToken(ctx context.Context, value string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where refresh_token=$1`, value)
	return scanSession(row)
}

func (s *PGStore) Rotate(ctx context.Context, id, old, next, accessTokenID string, lastUsed time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set refresh_token=$3, access_token_id=$4, last_used_at=$5
		 where id=$1 and refresh_token=$2 and active and not revoked`,
		id, old, next, accessTokenID, lastUsed,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PGStore) MarkRevoked(ctx context.Context, id string, at time.Time, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set active=false, revoked=true, revoked_at=$2, revoked_reason=$3
		 where id=$1 and not revoked`, id, at, reason)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PGStore) RevokeAll(ctx context.Context, identityID string, at time.Time, reason, exceptID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set active=false, revoked=true, revoked_at=$2, revoked_reason=$3
		 where identity_id=$1 and active and not revoked and id <> $4`,
		identityID, at, reason, exceptID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PGStore) ListActive(ctx context.Context, identityID string, now time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions
		 where identity_id=$1 and active and not revoked and expires_at > $2
		 order by last_used_at desc`, identityID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

func (s *PGStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set active=false, revoked=true, revoked_at=$1, revoked_reason='expired'
		 where expires_at <= $1 and not revoked`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*Session, error) {
	sess, err := scanSessionFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

func scanSessionRows(rows *sql.Rows) (*Session, error) {
	return scanSessionFrom(rows)
}

func scanSessionFrom(r rowScanner) (*Session, error) {
	var (
		sess          Session
		accessTokenID sql.NullString
		revokedAt     sql.NullTime
		revokedReason sql.NullString
	)
	err := r.Scan(&sess.ID, &sess.IdentityID, &sess.RefreshToken, &accessTokenID,
		&sess.IP, &sess.UserAgent, &sess.Device, &sess.Active, &sess.Revoked,
		&revokedAt, &revokedReason, &sess.ExpiresAt, &sess.LastUsedAt, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	sess.AccessTokenID = accessTokenID.String
	sess.RevokedReason = revokedReason.String
	if revokedAt.Valid {
		t := revokedAt.Time
		sess.RevokedAt = &t
	}
	return &sess, nil
}

// PGBlacklist implements BlacklistStore using PostgreSQL.
type PGBlacklist struct {
	db *sql.DB
}

func NewPGBlacklist(db *sql.DB) *PGBlacklist {
	return &PGBlacklist{db: db}
}

func (s *PGBlacklist) Add(ctx context.Context, t *BlacklistedToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into blacklisted_tokens(jti, token_type, identity_id, session_id, expires_at, reason)
		 values($1,$2,$3,$4,$5,$6)
		 on conflict (jti) do nothing`,
		t.JTI, t.TokenType, t.IdentityID, nullable(t.SessionID), t.ExpiresAt, t.Reason,
	)
	return err
}

func (s *PGBlacklist) Contains(ctx context.Context, jti string, now time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`select 1 from blacklisted_tokens where jti=$1 and expires_at > $2`, jti, now).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PGBlacklist) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from blacklisted_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
