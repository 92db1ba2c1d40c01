package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sabq4org/stepauth"
)

// Schema creates the three tables the store operates on. Identities are
// usually owned by a wider user-management schema; the statement here is
// the minimal shape this store reads and the flag column it flips.
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
    id                 TEXT PRIMARY KEY,
    email              TEXT NOT NULL DEFAULT '',
    role               TEXT NOT NULL DEFAULT 'user',
    two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS two_factor_pending (
    identity_id  TEXT PRIMARY KEY REFERENCES identities (id) ON DELETE CASCADE,
    secret       BYTEA NOT NULL,
    backup_codes JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS two_factor_active (
    identity_id       TEXT PRIMARY KEY REFERENCES identities (id) ON DELETE CASCADE,
    secret            BYTEA NOT NULL,
    backup_codes      JSONB NOT NULL,
    verified_at       TIMESTAMPTZ NOT NULL,
    last_used_at      TIMESTAMPTZ,
    last_used_counter BIGINT NOT NULL DEFAULT 0
);
`

// Store is a PostgreSQL-backed [stepauth.EnrollmentStore]. Safe for
// concurrent use; per-identity serialization comes from row locks, not
// process-local state.
type Store struct {
	db *sql.DB
}

// Open connects with the pgx stdlib driver, pings, and returns a ready
// store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, storageErr(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr(err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool, for callers managing connections
// themselves (and for tests).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetIdentity(ctx context.Context, identityID string) (stepauth.Identity, error) {
	var identity stepauth.Identity
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, role, two_factor_enabled FROM identities WHERE id = $1`,
		identityID)
	err := row.Scan(&identity.ID, &identity.Email, &identity.Role, &identity.TwoFactorEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return stepauth.Identity{}, stepauth.ErrIdentityNotFound
	}
	if err != nil {
		return stepauth.Identity{}, storageErr(err)
	}
	return identity, nil
}

func (s *Store) GetEnrollment(ctx context.Context, identityID string) (stepauth.Enrollment, error) {
	var (
		enrollment stepauth.Enrollment
		codesJSON  []byte
		lastUsed   sql.NullTime
	)

	row := s.db.QueryRowContext(ctx,
		`SELECT secret, backup_codes, verified_at, last_used_at, last_used_counter
		   FROM two_factor_active WHERE identity_id = $1`,
		identityID)
	err := row.Scan(&enrollment.Secret, &codesJSON, &enrollment.VerifiedAt,
		&lastUsed, &enrollment.LastUsedCounter)
	switch {
	case err == nil:
		enrollment.Stage = stepauth.StageActive
		if lastUsed.Valid {
			enrollment.LastUsedAt = lastUsed.Time
		}
		if err := json.Unmarshal(codesJSON, &enrollment.BackupCodes); err != nil {
			return stepauth.Enrollment{}, storageErr(err)
		}
		return enrollment, nil
	case !errors.Is(err, sql.ErrNoRows):
		return stepauth.Enrollment{}, storageErr(err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT secret, backup_codes, created_at FROM two_factor_pending WHERE identity_id = $1`,
		identityID)
	err = row.Scan(&enrollment.Secret, &codesJSON, &enrollment.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return stepauth.Enrollment{Stage: stepauth.StageDisabled}, nil
	case err != nil:
		return stepauth.Enrollment{}, storageErr(err)
	}
	enrollment.Stage = stepauth.StagePending
	if err := json.Unmarshal(codesJSON, &enrollment.BackupCodes); err != nil {
		return stepauth.Enrollment{}, storageErr(err)
	}
	return enrollment, nil
}

func (s *Store) UpsertPending(ctx context.Context, identityID string, secret []byte, backupCodes []string, createdAt time.Time) error {
	codesJSON, err := json.Marshal(backupCodes)
	if err != nil {
		return storageErr(err)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO two_factor_pending (identity_id, secret, backup_codes, created_at)
		 SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM identities WHERE id = $1)
		 ON CONFLICT (identity_id)
		 DO UPDATE SET secret = EXCLUDED.secret,
		               backup_codes = EXCLUDED.backup_codes,
		               created_at = EXCLUDED.created_at`,
		identityID, secret, codesJSON, createdAt)
	if err != nil {
		return storageErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if affected == 0 {
		return stepauth.ErrIdentityNotFound
	}
	return nil
}

func (s *Store) ActivatePending(ctx context.Context, identityID string, verifiedSecret []byte, verifiedAt time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM two_factor_active WHERE identity_id = $1 FOR UPDATE)`,
			identityID).Scan(&exists)
		if err != nil {
			return storageErr(err)
		}
		if exists {
			return stepauth.ErrAlreadyActive
		}

		var (
			secret    []byte
			codesJSON []byte
		)
		err = tx.QueryRowContext(ctx,
			`SELECT secret, backup_codes FROM two_factor_pending WHERE identity_id = $1 FOR UPDATE`,
			identityID).Scan(&secret, &codesJSON)
		if errors.Is(err, sql.ErrNoRows) {
			// Under READ COMMITTED a concurrent activation can slip between
			// the two checks: it held the pending row lock, consumed the row,
			// and committed while we waited. Re-read active state in this
			// transaction so the race loser sees the benign outcome.
			var nowActive bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM two_factor_active WHERE identity_id = $1)`,
				identityID).Scan(&nowActive); err != nil {
				return storageErr(err)
			}
			if nowActive {
				return stepauth.ErrAlreadyActive
			}
			return stepauth.ErrSecretNotProvisioned
		}
		if err != nil {
			return storageErr(err)
		}
		// A re-provision may have replaced the secret after the caller
		// verified its code. The stale verification must not activate the
		// new secret.
		if !bytes.Equal(secret, verifiedSecret) {
			return stepauth.ErrSecretNotProvisioned
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM two_factor_pending WHERE identity_id = $1`, identityID); err != nil {
			return storageErr(err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO two_factor_active (identity_id, secret, backup_codes, verified_at)
			 VALUES ($1, $2, $3, $4)`,
			identityID, secret, codesJSON, verifiedAt); err != nil {
			return storageErr(err)
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE identities SET two_factor_enabled = TRUE WHERE id = $1`, identityID)
		if err != nil {
			return storageErr(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return storageErr(err)
		}
		if affected == 0 {
			return stepauth.ErrIdentityNotFound
		}
		return nil
	})
}

func (s *Store) Disable(ctx context.Context, identityID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM two_factor_active WHERE identity_id = $1`, identityID); err != nil {
			return storageErr(err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM two_factor_pending WHERE identity_id = $1`, identityID); err != nil {
			return storageErr(err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE identities SET two_factor_enabled = FALSE WHERE id = $1`, identityID); err != nil {
			return storageErr(err)
		}
		return nil
	})
}

func (s *Store) ConsumeBackupCode(ctx context.Context, identityID, canonicalCode string, usedAt time.Time) (bool, error) {
	matched := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var codesJSON []byte
		err := tx.QueryRowContext(ctx,
			`SELECT backup_codes FROM two_factor_active WHERE identity_id = $1 FOR UPDATE`,
			identityID).Scan(&codesJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return storageErr(err)
		}

		var codes []string
		if err := json.Unmarshal(codesJSON, &codes); err != nil {
			return storageErr(err)
		}
		ok, remaining := stepauth.ConsumeBackupCode(codes, canonicalCode)
		if !ok {
			return nil
		}

		updatedJSON, err := json.Marshal(remaining)
		if err != nil {
			return storageErr(err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE two_factor_active SET backup_codes = $2, last_used_at = $3 WHERE identity_id = $1`,
			identityID, updatedJSON, usedAt); err != nil {
			return storageErr(err)
		}
		matched = true
		return nil
	})
	return matched, err
}

func (s *Store) RecordTOTPUse(ctx context.Context, identityID string, counter int64, usedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE two_factor_active
		    SET last_used_counter = $2, last_used_at = $3
		  WHERE identity_id = $1 AND last_used_counter < $2`,
		identityID, counter, usedAt)
	if err != nil {
		return false, storageErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, storageErr(err)
	}
	return affected > 0, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", stepauth.ErrStorageUnavailable, err)
}
