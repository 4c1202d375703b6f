// Package pg implements AccountRepository on PostgreSQL via pgx.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
)

const accountColumns = `id, owner_user_id, platform, access_token, refresh_token, expires_at, identity_key, metadata, created_at, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Connect opens a pgx pool against dsn and pings it.
func Connect(ctx context.Context, dsn string, maxConns int, connMaxLifetime time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	if connMaxLifetime > 0 {
		cfg.MaxConnLifetime = connMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (s *Store) Find(ctx context.Context, ownerUserID, platform string) ([]*repository.IntegrationAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM integration_account WHERE owner_user_id = $1`
	args := []any{ownerUserID}
	if platform != "" {
		query += ` AND platform = $2`
		args = append(args, platform)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.IntegrationAccount
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *Store) FindOne(ctx context.Context, ownerUserID, platform, identityKey string) (*repository.IntegrationAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM integration_account
		 WHERE owner_user_id = $1 AND platform = $2 AND identity_key = $3`,
		ownerUserID, platform, identityKey,
	)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return acc, err
}

func (s *Store) Get(ctx context.Context, id string) (*repository.IntegrationAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM integration_account WHERE id = $1`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return acc, err
}

func (s *Store) Upsert(ctx context.Context, in repository.UpsertInput) (*repository.IntegrationAccount, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Locate the existing record for the uniqueness triple. An empty
	// identity key falls back to (owner, platform) so a flaky identity
	// resolution never forks a second record.
	var (
		existingID   string
		existingMeta []byte
	)
	if in.IdentityKey != "" {
		// Exact triple first; otherwise adopt a record whose identity was
		// never resolved instead of inserting a duplicate.
		err = tx.QueryRow(ctx,
			`SELECT id, metadata FROM integration_account
			 WHERE owner_user_id = $1 AND platform = $2 AND identity_key IN ($3, '')
			 ORDER BY (identity_key = $3) DESC, created_at
			 LIMIT 1
			 FOR UPDATE`,
			in.OwnerUserID, in.Platform, in.IdentityKey,
		).Scan(&existingID, &existingMeta)
	} else {
		err = tx.QueryRow(ctx,
			`SELECT id, metadata FROM integration_account
			 WHERE owner_user_id = $1 AND platform = $2
			 ORDER BY created_at LIMIT 1
			 FOR UPDATE`,
			in.OwnerUserID, in.Platform,
		).Scan(&existingID, &existingMeta)
	}

	now := time.Now().UTC()
	switch {
	case err == nil:
		merged := mergeMeta(decodeMeta(existingMeta), in.Metadata)
		metaJSON, _ := json.Marshal(merged)
		identityKey := in.IdentityKey
		if identityKey == "" {
			// Preserve the stored key rather than blanking it.
			var stored string
			if e := tx.QueryRow(ctx, `SELECT identity_key FROM integration_account WHERE id = $1`, existingID).Scan(&stored); e == nil {
				identityKey = stored
			}
		}
		_, err = tx.Exec(ctx, `
			UPDATE integration_account
			SET access_token = $2,
			    refresh_token = CASE WHEN $3 = '' THEN refresh_token ELSE $3 END,
			    expires_at = $4,
			    identity_key = $5,
			    metadata = $6,
			    updated_at = $7
			WHERE id = $1`,
			existingID, in.AccessToken, in.RefreshToken, in.ExpiresAt, identityKey, metaJSON, now,
		)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, pgx.ErrNoRows):
		existingID = uuid.NewString()
		metaJSON, _ := json.Marshal(nonNil(in.Metadata))
		_, err = tx.Exec(ctx, `
			INSERT INTO integration_account
			(id, owner_user_id, platform, access_token, refresh_token, expires_at, identity_key, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
			existingID, in.OwnerUserID, in.Platform, in.AccessToken, in.RefreshToken, in.ExpiresAt, in.IdentityKey, metaJSON, now,
		)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.Get(ctx, existingID)
}

func (s *Store) UpdateTokens(ctx context.Context, id string, upd repository.TokenUpdate) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE integration_account
		SET access_token = $2,
		    refresh_token = CASE WHEN $3 = '' THEN refresh_token ELSE $3 END,
		    expires_at = $4,
		    updated_at = NOW()
		WHERE id = $1`,
		id, upd.AccessToken, upd.RefreshToken, upd.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) SetIdentityKey(ctx context.Context, id, identityKey string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE integration_account
		SET identity_key = $2,
		    updated_at = NOW()
		WHERE id = $1`,
		id, identityKey,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) MergeMetadata(ctx context.Context, id string, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	// jsonb || jsonb merges key-wise with the right side winning, matching
	// the repository contract without a read-modify-write race.
	ct, err := s.pool.Exec(ctx, `
		UPDATE integration_account
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1`,
		id, metaJSON,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM integration_account WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*repository.IntegrationAccount, error) {
	var (
		acc  repository.IntegrationAccount
		meta []byte
	)
	err := row.Scan(
		&acc.ID, &acc.OwnerUserID, &acc.Platform,
		&acc.AccessToken, &acc.RefreshToken, &acc.ExpiresAt,
		&acc.IdentityKey, &meta, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.Metadata = decodeMeta(meta)
	return &acc, nil
}

func decodeMeta(b []byte) map[string]string {
	m := map[string]string{}
	if len(b) > 0 {
		_ = json.Unmarshal(b, &m)
	}
	return m
}

func mergeMeta(existing, incoming map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
