// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/promptlab/internal/sentiment"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// ErrDatabase wraps driver failures.
var ErrDatabase = errors.New("database error")

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore implements both ConversationStore and telemetry.MetricsStore
// on a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrDatabase)
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-16000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Create implements ConversationStore.
func (s *SQLiteStore) Create(ctx context.Context, conv *Conversation) (string, error) {
	if conv == nil {
		return "", fmt.Errorf("%w: nil conversation", ErrInvalidConversation)
	}
	if err := prepareConversation(conv, s.now()); err != nil {
		return "", err
	}
	meta, err := encodeMap(conv.Metadata)
	if err != nil {
		return "", err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT user_id FROM conversations WHERE id = ?`, conv.ID).Scan(&owner)
		switch {
		case err == nil:
			if owner != conv.UserID {
				return ErrConflict
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return dbErr(err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, user_id, title, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
			conv.ID, conv.UserID, conv.Title, conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(), meta,
		); err != nil {
			return dbErr(err)
		}
		for i, m := range conv.Messages {
			if err := insertMessage(ctx, tx, conv.ID, i+1, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

// AppendMessage implements ConversationStore.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var createdAt, updatedAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT created_at, updated_at FROM conversations WHERE id = ?`, conversationID,
		).Scan(&createdAt, &updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return dbErr(err)
		}

		if msg.ID != "" {
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM messages WHERE id = ? AND conversation_id = ?`, msg.ID, conversationID,
			).Scan(&exists)
			if err != nil {
				return dbErr(err)
			}
			if exists > 0 {
				return nil
			}
		}

		var lastSeq, lastTS sql.NullInt64
		err = tx.QueryRowContext(ctx,
			`SELECT MAX(seq), MAX(timestamp) FROM messages WHERE conversation_id = ?`, conversationID,
		).Scan(&lastSeq, &lastTS)
		if err != nil {
			return dbErr(err)
		}

		floor := time.Unix(0, createdAt).UTC()
		if lastTS.Valid {
			floor = time.Unix(0, lastTS.Int64).UTC()
		}
		if err := prepareMessage(&msg, floor); err != nil {
			return err
		}
		if err := insertMessage(ctx, tx, conversationID, int(lastSeq.Int64)+1, msg); err != nil {
			return err
		}

		if ts := msg.Timestamp.UnixNano(); ts > updatedAt {
			if _, err := tx.ExecContext(ctx,
				`UPDATE conversations SET updated_at = ? WHERE id = ?`, ts, conversationID,
			); err != nil {
				return dbErr(err)
			}
		}
		return nil
	})
}

// Get implements ConversationStore.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var (
		conv                 Conversation
		createdAt, updatedAt int64
		meta                 sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at, metadata FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt, &updatedAt, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbErr(err)
	}
	conv.CreatedAt = time.Unix(0, createdAt).UTC()
	conv.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if conv.Metadata, err = decodeMap(meta); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp, metadata FROM messages WHERE conversation_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	conv.Messages = []Message{}
	for rows.Next() {
		var (
			m    Message
			ts   int64
			meta sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts, &meta); err != nil {
			return nil, dbErr(err)
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		if m.Metadata, err = decodeMap(meta); err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return &conv, nil
}

// ListByUser implements ConversationStore. Most recently updated first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]ConversationSummary, error) {
	limit, offset = clampLimit(limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
		       COALESCE((SELECT content FROM messages m WHERE m.conversation_id = c.id ORDER BY seq DESC LIMIT 1), '')
		FROM conversations c
		WHERE c.user_id = ?
		ORDER BY c.updated_at DESC, c.id ASC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	out := []ConversationSummary{}
	for rows.Next() {
		var (
			sum                  ConversationSummary
			createdAt, updatedAt int64
			last                 string
		)
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.Title, &createdAt, &updatedAt, &sum.MessageCount, &last); err != nil {
			return nil, dbErr(err)
		}
		sum.CreatedAt = time.Unix(0, createdAt).UTC()
		sum.UpdatedAt = time.Unix(0, updatedAt).UTC()
		sum.LastMessage = preview(last)
		out = append(out, sum)
	}
	return out, dbErr(rows.Err())
}

// Delete implements ConversationStore. Messages go with the conversation;
// exchange records are dropped through DeleteConversation.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
			return dbErr(err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
		if err != nil {
			return dbErr(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// =============================================================================
// EXCHANGE RECORDS
// =============================================================================

// Append implements telemetry.MetricsStore.
func (s *SQLiteStore) Append(ctx context.Context, rec telemetry.ExchangeRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	var sent sql.NullString
	if rec.Sentiment != nil {
		data, err := json.Marshal(rec.Sentiment)
		if err != nil {
			return err
		}
		sent = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO exchange_records
		    (id, conversation_id, user_id, provider, model, latency_ms,
		     tokens_input, tokens_output, tokens, cost_usd, sentiment, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ConversationID, rec.UserID, rec.Provider, rec.Model, rec.LatencyMs,
		rec.TokensInput, rec.TokensOutput, rec.Tokens, rec.CostUSD.String(), sent,
		rec.Timestamp.UTC().UnixNano(),
	)
	return dbErr(err)
}

// Query implements telemetry.MetricsStore.
func (s *SQLiteStore) Query(ctx context.Context, scope telemetry.Scope, since time.Time) ([]telemetry.ExchangeRecord, error) {
	var (
		where []string
		args  []any
	)
	switch scope.Kind {
	case telemetry.ScopeKindUser:
		where = append(where, "user_id = ?")
		args = append(args, scope.ID)
	case telemetry.ScopeKindConversation:
		where = append(where, "conversation_id = ?")
		args = append(args, scope.ID)
	}
	if !since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, since.UTC().UnixNano())
	}

	q := `SELECT id, conversation_id, user_id, provider, model, latency_ms,
	             tokens_input, tokens_output, tokens, cost_usd, sentiment, timestamp
	      FROM exchange_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY timestamp ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	out := []telemetry.ExchangeRecord{}
	for rows.Next() {
		var (
			r    telemetry.ExchangeRecord
			cost string
			sent sql.NullString
			ts   int64
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.UserID, &r.Provider, &r.Model, &r.LatencyMs,
			&r.TokensInput, &r.TokensOutput, &r.Tokens, &cost, &sent, &ts); err != nil {
			return nil, dbErr(err)
		}
		if r.CostUSD, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("%w: record %s cost %q: %v", ErrDatabase, r.ID, cost, err)
		}
		if sent.Valid {
			var res sentiment.Result
			if err := json.Unmarshal([]byte(sent.String), &res); err != nil {
				return nil, fmt.Errorf("%w: record %s sentiment: %v", ErrDatabase, r.ID, err)
			}
			r.Sentiment = &res
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, dbErr(rows.Err())
}

// Prune implements telemetry.MetricsStore.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exchange_records WHERE timestamp < ?`, before.UTC().UnixNano())
	if err != nil {
		return 0, dbErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbErr(err)
	}
	return int(n), nil
}

// DeleteConversation implements telemetry.MetricsStore.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM exchange_records WHERE conversation_id = ?`, conversationID)
	return dbErr(err)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return dbErr(tx.Commit())
}

func insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, seq int, m Message) error {
	meta, err := encodeMap(m.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, role, content, timestamp, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, conversationID, seq, m.Role, m.Content, m.Timestamp.UnixNano(), meta,
	)
	return dbErr(err)
}

func encodeMap(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrDatabase, err)
	}
	return m, nil
}

// dbErr tags driver errors with ErrDatabase, passing nil and context errors
// through.
func dbErr(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDatabase, err)
}
