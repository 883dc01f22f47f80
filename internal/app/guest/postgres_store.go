package guest

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createGuestOrdersSQL = `
CREATE TABLE IF NOT EXISTS guest_orders (
  namespace text NOT NULL,
  restaurant_id text NOT NULL,
  schema_version integer NOT NULL,
  doc jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (namespace, restaurant_id)
)`

const selectGuestOrderSQL = `
SELECT schema_version, doc
FROM guest_orders
WHERE namespace = $1 AND restaurant_id = $2
`

const upsertGuestOrderSQL = `
INSERT INTO guest_orders (namespace, restaurant_id, schema_version, doc, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (namespace, restaurant_id) DO UPDATE
SET schema_version = EXCLUDED.schema_version,
    doc = EXCLUDED.doc,
    updated_at = now()
`

const deleteGuestOrderSQL = `
DELETE FROM guest_orders
WHERE namespace = $1 AND restaurant_id = $2
`

// PostgresStore keeps one row per (namespace, restaurant) with the order as jsonb.
type PostgresStore struct {
	Pool      *pgxpool.Pool
	Namespace string
}

func NewPostgresStore(pool *pgxpool.Pool, namespace string) *PostgresStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &PostgresStore{Pool: pool, Namespace: namespace}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, createGuestOrdersSQL)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, restaurantID string) (Order, error) {
	var version int
	var raw []byte
	err := s.Pool.QueryRow(ctx, selectGuestOrderSQL, s.Namespace, restaurantID).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNoOrder
	}
	if err != nil {
		return Order{}, err
	}
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return Order{}, err
	}
	if version < SchemaVersion {
		o = migrateOrder(restaurantID, o)
	}
	return o, nil
}

func (s *PostgresStore) Save(ctx context.Context, order Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, upsertGuestOrderSQL, s.Namespace, order.RestaurantID, SchemaVersion, raw)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, restaurantID string) error {
	_, err := s.Pool.Exec(ctx, deleteGuestOrderSQL, s.Namespace, restaurantID)
	return err
}
