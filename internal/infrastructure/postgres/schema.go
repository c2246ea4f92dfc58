package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drfirst/rxchain/pkg/idempotency"
)

// Schema holds the tables owned by this package. Amounts are BIGINT; writes
// of values beyond the int64 range fail with ErrAmountRange.
const Schema = `
CREATE TABLE IF NOT EXISTS receipts (
	idx        BIGINT PRIMARY KEY,
	hash       TEXT NOT NULL UNIQUE,
	sender     TEXT NOT NULL,
	recipient  TEXT NOT NULL,
	value      BIGINT NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id             UUID PRIMARY KEY,
	receipt_idx    BIGINT NOT NULL REFERENCES receipts (idx),
	log_index      INT NOT NULL,
	contract       TEXT NOT NULL,
	contract_label TEXT NOT NULL DEFAULT '',
	event_type     TEXT NOT NULL,
	data           JSONB NOT NULL,
	UNIQUE (receipt_idx, log_index)
);
CREATE INDEX IF NOT EXISTS events_contract_idx ON events (contract, receipt_idx);

CREATE TABLE IF NOT EXISTS outbox (
	id           BIGSERIAL PRIMARY KEY,
	event_id     UUID UNIQUE,
	receipt_idx  BIGINT NOT NULL,
	contract     TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	payload      JSONB NOT NULL,
	kafka_topic  TEXT NOT NULL,
	kafka_key    TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ,
	retry_count  INT NOT NULL DEFAULT 0,
	last_error   TEXT
);
CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (id) WHERE processed_at IS NULL;

CREATE TABLE IF NOT EXISTS orders (
	order_id     BIGINT PRIMARY KEY,
	exchange     TEXT NOT NULL,
	pharmacy     TEXT NOT NULL,
	patient      TEXT NOT NULL,
	medicine_ids BIGINT[] NOT NULL,
	quantities   BIGINT[] NOT NULL,
	total_price  BIGINT NOT NULL,
	is_ready     BOOLEAN NOT NULL DEFAULT FALSE,
	is_paid      BOOLEAN NOT NULL DEFAULT FALSE,
	paid_amount  BIGINT,
	last_receipt BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS orders_patient_idx ON orders (patient);

CREATE TABLE IF NOT EXISTS prescriptions (
	token_id     BIGINT PRIMARY KEY,
	registry     TEXT NOT NULL,
	owner        TEXT,
	patient      TEXT NOT NULL,
	doctor       TEXT NOT NULL,
	pharmacy     TEXT,
	status       TEXT NOT NULL,
	uri          TEXT NOT NULL,
	last_receipt BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS medications (
	medication_id BIGINT PRIMARY KEY,
	name          TEXT NOT NULL,
	price         BIGINT NOT NULL,
	rate          BIGINT NOT NULL,
	last_receipt  BIGINT NOT NULL
);
`

// Migrate creates every table used by the node, relay and indexer
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for name, ddl := range map[string]string{"ledger": Schema, "inbox": idempotency.Schema} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate %s schema: %w", name, err)
		}
	}
	return nil
}
