package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

const createEventsTable = `
	CREATE TABLE IF NOT EXISTS listing_events (
		seq         BIGINT UNSIGNED NOT NULL PRIMARY KEY,
		event_id    CHAR(36)        NOT NULL,
		kind        VARCHAR(32)     NOT NULL,
		collection  VARCHAR(191)    NOT NULL,
		token_id    VARCHAR(191)    NOT NULL,
		price       BIGINT          NOT NULL,
		seller      VARCHAR(191)    NOT NULL,
		buyer       VARCHAR(191)    NOT NULL DEFAULT '',
		occurred_at DATETIME(6)     NOT NULL,
		UNIQUE KEY uq_listing_events_event_id (event_id),
		KEY idx_listing_events_item (collection, token_id, seq)
	)`

const createSeqTable = `
	CREATE TABLE IF NOT EXISTS listing_event_seq (
		id       TINYINT UNSIGNED NOT NULL PRIMARY KEY,
		next_seq BIGINT UNSIGNED  NOT NULL
	)`

// MySQLEventLog persists the event log. Seq comes from a single counter row
// locked for the whole append, so events commit in Seq order with no holes.
type MySQLEventLog struct {
	db *sql.DB
}

func NewMySQLEventLog(db *sql.DB) *MySQLEventLog {
	return &MySQLEventLog{db: db}
}

func (m *MySQLEventLog) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createEventsTable); err != nil {
		return fmt.Errorf("create listing_events: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, createSeqTable); err != nil {
		return fmt.Errorf("create listing_event_seq: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO listing_event_seq (id, next_seq)
		SELECT 1, COALESCE(MAX(seq), 0) + 1 FROM listing_events`); err != nil {
		return fmt.Errorf("seed listing_event_seq: %w", err)
	}
	return nil
}

func (m *MySQLEventLog) Append(ctx context.Context, event domain.Event) (domain.Event, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Row lock is held until commit; concurrent appends queue here.
	var seq uint64
	err = tx.QueryRowContext(ctx, `SELECT next_seq FROM listing_event_seq WHERE id = 1 FOR UPDATE`).Scan(&seq)
	if err != nil {
		return domain.Event{}, fmt.Errorf("lock event seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO listing_events (seq, event_id, kind, collection, token_id, price, seller, buyer, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq, event.ID, event.Kind, event.Key.Collection, event.Key.TokenID,
		event.Price, event.Seller, event.Buyer, event.OccurredAt,
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE listing_event_seq SET next_seq = ? WHERE id = 1`, seq+1); err != nil {
		return domain.Event{}, fmt.Errorf("advance event seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Event{}, fmt.Errorf("commit event: %w", err)
	}

	event.Seq = seq
	return event, nil
}

func (m *MySQLEventLog) Since(ctx context.Context, after uint64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT seq, event_id, kind, collection, token_id, price, seller, buyer, occurred_at
		FROM listing_events
		WHERE seq > ?
		ORDER BY seq
		LIMIT ?`, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var kind string
		if err := rows.Scan(&e.Seq, &e.ID, &kind, &e.Key.Collection, &e.Key.TokenID,
			&e.Price, &e.Seller, &e.Buyer, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}
