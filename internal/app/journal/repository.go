package journal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aadi/tabletsync/internal/contracts"
	"github.com/aadi/tabletsync/internal/messaging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS order_events (
  id bigserial PRIMARY KEY,
  stream_seq bigint UNIQUE,
  event_type text NOT NULL,
  cursor text NOT NULL DEFAULT '',
  order_id text NOT NULL DEFAULT '',
  payload jsonb NOT NULL,
  occurred_at timestamptz NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createEventsOrderIndexSQL = `
CREATE INDEX IF NOT EXISTS order_events_order_id_idx ON order_events (order_id)`

const createProjectionTableSQL = `
CREATE TABLE IF NOT EXISTS order_projection (
  order_id text PRIMARY KEY,
  status text NOT NULL,
  doc jsonb NOT NULL,
  cursor text NOT NULL DEFAULT '',
  deleted boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

const addProjectionDeletedSQL = `
ALTER TABLE order_projection ADD COLUMN IF NOT EXISTS deleted boolean NOT NULL DEFAULT false`

const createOffsetsTableSQL = `
CREATE TABLE IF NOT EXISTS journal_offsets (
  stream text PRIMARY KEY,
  last_event_seq bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const insertEventSQL = `
INSERT INTO order_events (stream_seq, event_type, cursor, order_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (stream_seq) DO NOTHING
`

const selectProjectionCursorSQL = `
SELECT cursor FROM order_projection WHERE order_id = $1 FOR UPDATE
`

const upsertProjectionSQL = `
INSERT INTO order_projection (order_id, status, doc, cursor, deleted, created_at, updated_at)
VALUES ($1, $2, $3, $4, false, $5, $6)
ON CONFLICT (order_id) DO UPDATE
SET status = EXCLUDED.status,
    doc = EXCLUDED.doc,
    cursor = EXCLUDED.cursor,
    deleted = false,
    updated_at = EXCLUDED.updated_at
`

// A deleted order keeps its row as a tombstone so a late upsert with an
// older cursor cannot bring it back.
const tombstoneProjectionSQL = `
INSERT INTO order_projection (order_id, status, doc, cursor, deleted, created_at, updated_at)
VALUES ($1, '', '{}'::jsonb, $2, true, $3, $3)
ON CONFLICT (order_id) DO UPDATE
SET status = '',
    doc = '{}'::jsonb,
    cursor = EXCLUDED.cursor,
    deleted = true,
    updated_at = EXCLUDED.updated_at
`

const clearProjectionSQL = `
DELETE FROM order_projection
`

const upsertOffsetSQL = `
INSERT INTO journal_offsets (stream, last_event_seq, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (stream) DO UPDATE
SET last_event_seq = GREATEST(journal_offsets.last_event_seq, EXCLUDED.last_event_seq),
    updated_at = now()
`

const listProjectionSQL = `
SELECT doc FROM order_projection WHERE NOT deleted ORDER BY created_at ASC, order_id ASC
`

type EventRepository struct {
	Pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{Pool: pool}
}

func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createEventsTableSQL,
		createEventsOrderIndexSQL,
		createProjectionTableSQL,
		addProjectionDeletedSQL,
		createOffsetsTableSQL,
	} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *EventRepository) RecordEvent(ctx context.Context, event contracts.MirroredEvent, payload []byte, eventSeq uint64) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var seq *int64
	if eventSeq > 0 {
		v := int64(eventSeq)
		seq = &v
	}
	tag, err := tx.Exec(ctx, insertEventSQL,
		seq,
		string(event.Type),
		string(event.Cursor),
		event.OrderID,
		payload,
		event.OccurredAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Redelivery of an event already journaled.
		return tx.Commit(ctx)
	}

	switch event.Type {
	case contracts.EventSnapshot:
		if _, err := tx.Exec(ctx, clearProjectionSQL); err != nil {
			return err
		}
		for _, o := range event.Orders {
			if err := upsertProjection(ctx, tx, o, event.Cursor); err != nil {
				return err
			}
		}
	case contracts.EventUpsert:
		ok, err := projectionAccepts(ctx, tx, event.Order.ID, event.Cursor)
		if err != nil {
			return err
		}
		if ok {
			if err := upsertProjection(ctx, tx, *event.Order, event.Cursor); err != nil {
				return err
			}
		}
	case contracts.EventDelete:
		ok, err := projectionAccepts(ctx, tx, event.OrderID, event.Cursor)
		if err != nil {
			return err
		}
		if ok {
			if _, err := tx.Exec(ctx, tombstoneProjectionSQL, event.OrderID, string(event.Cursor), event.OccurredAt); err != nil {
				return err
			}
		}
	default:
		return ErrUnsupportedEventType
	}

	if eventSeq > 0 {
		if _, err := tx.Exec(ctx, upsertOffsetSQL, messaging.OrderEventsStream, int64(eventSeq)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// supersedes reports whether an event at incoming may overwrite a projection
// row last written at stored. Redelivered or reordered events lose.
func supersedes(stored, incoming contracts.Cursor) bool {
	return stored.Less(incoming)
}

// projectionAccepts locks the order's projection row, if any, and checks the
// incoming cursor against it.
func projectionAccepts(ctx context.Context, tx pgx.Tx, orderID string, incoming contracts.Cursor) (bool, error) {
	var stored string
	err := tx.QueryRow(ctx, selectProjectionCursorSQL, orderID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return supersedes(contracts.Cursor(stored), incoming), nil
}

func upsertProjection(ctx context.Context, tx pgx.Tx, o contracts.Order, cursor contracts.Cursor) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, upsertProjectionSQL, o.ID, string(o.Status), doc, string(cursor), o.CreatedAt, o.UpdatedAt)
	return err
}

func (r *EventRepository) ListOrders(ctx context.Context) ([]contracts.Order, error) {
	rows, err := r.Pool.Query(ctx, listProjectionSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []contracts.Order{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var o contracts.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
