package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/domain/join"
	"github.com/Strob0t/iotbridge/internal/port/joinstore"
)

// JoinStore implements joinstore.Store on the join_requests table. Update
// serializes per tenant with a transaction-scoped advisory lock, so it is
// safe across bridge processes sharing the database.
type JoinStore struct {
	pool *pgxpool.Pool
}

var _ joinstore.Store = (*JoinStore)(nil)

// NewJoinStore creates a JoinStore backed by the given connection pool.
func NewJoinStore(pool *pgxpool.Pool) *JoinStore {
	return &JoinStore{pool: pool}
}

const joinColumns = `tenant_id, display_name, sub_ca_csr, mqtt_bridge_csr, wg_pubkey, keycloak_url,
	status, requested_at, approved_at, rejected_at, rejected_reason, bundle`

func (s *JoinStore) Load(ctx context.Context) (map[string]*join.Request, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+joinColumns+` FROM join_requests`)
	if err != nil {
		return nil, fmt.Errorf("load join requests: %w", err)
	}
	defer rows.Close()

	all := map[string]*join.Request{}
	for rows.Next() {
		r, err := scanJoinRequest(rows)
		if err != nil {
			return nil, err
		}
		all[r.TenantID] = r
	}
	return all, rows.Err()
}

func (s *JoinStore) Save(ctx context.Context, all map[string]*join.Request) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ids := make([]string, 0, len(all))
		for id := range all {
			ids = append(ids, id)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM join_requests WHERE tenant_id <> ALL($1)`, ids); err != nil {
			return fmt.Errorf("prune join requests: %w", err)
		}
		for id, r := range all {
			if err := upsert(ctx, tx, id, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *JoinStore) Get(ctx context.Context, tenantID string) (*join.Request, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+joinColumns+` FROM join_requests WHERE tenant_id = $1`, tenantID)
	r, err := scanJoinRequest(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, join.NotFound(tenantID)
	case err != nil:
		return nil, fmt.Errorf("read join request %s: %w", tenantID, err)
	}
	return r, nil
}

func (s *JoinStore) Update(ctx context.Context, tenantID string, fn joinstore.UpdateFunc) (*join.Request, error) {
	var out *join.Request
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('join_requests:' || $1))`, tenantID); err != nil {
			return fmt.Errorf("lock join request %s: %w", tenantID, err)
		}

		row := tx.QueryRow(ctx, `SELECT `+joinColumns+` FROM join_requests WHERE tenant_id = $1`, tenantID)
		cur, err := scanJoinRequest(row)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("read join request %s: %w", tenantID, err)
			}
			cur = nil
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		if err := upsert(ctx, tx, tenantID, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func upsert(ctx context.Context, tx pgx.Tx, tenantID string, r *join.Request) error {
	bundle, err := json.Marshal(r.Bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO join_requests (`+joinColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			sub_ca_csr = EXCLUDED.sub_ca_csr,
			mqtt_bridge_csr = EXCLUDED.mqtt_bridge_csr,
			wg_pubkey = EXCLUDED.wg_pubkey,
			keycloak_url = EXCLUDED.keycloak_url,
			status = EXCLUDED.status,
			requested_at = EXCLUDED.requested_at,
			approved_at = EXCLUDED.approved_at,
			rejected_at = EXCLUDED.rejected_at,
			rejected_reason = EXCLUDED.rejected_reason,
			bundle = EXCLUDED.bundle`,
		tenantID, r.DisplayName, r.SubCACSR, r.MQTTBridgeCSR, r.WGPubkey, r.KeycloakURL,
		string(r.Status), r.RequestedAt, r.ApprovedAt, r.RejectedAt, nullableText(r.RejectedReason), bundle)
	if err != nil {
		return fmt.Errorf("upsert join request %s: %w", tenantID, err)
	}
	return nil
}

// nullableText maps an empty reason to SQL NULL.
func nullableText(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func scanJoinRequest(row pgx.Row) (*join.Request, error) {
	var (
		r      join.Request
		status string
		bundle []byte
	)
	err := row.Scan(&r.TenantID, &r.DisplayName, &r.SubCACSR, &r.MQTTBridgeCSR, &r.WGPubkey, &r.KeycloakURL,
		&status, &r.RequestedAt, &r.ApprovedAt, &r.RejectedAt, &r.RejectedReason, &bundle)
	if err != nil {
		return nil, err
	}
	r.Status = join.Status(status)
	r.RequestedAt = r.RequestedAt.UTC()
	if err := json.Unmarshal(bundle, &r.Bundle); err != nil {
		return nil, fmt.Errorf("%w: bundle of %s: %v", domain.ErrStorageCorrupt, r.TenantID, err)
	}
	return &r, nil
}
