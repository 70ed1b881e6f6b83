package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for lookups of conversations that do not exist.
var ErrNotFound = errors.New("conversation not found")

// sqlHistoryStore implements HistoryStore over database/sql. The dialect
// only affects placeholder syntax; the schema is shared.
type sqlHistoryStore struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
	schema  string
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *sqlHistoryStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *sqlHistoryStore) Initialize(ctx context.Context) error {
	for _, stmt := range strings.Split(s.schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *sqlHistoryStore) Create(ctx context.Context, title string) (*Conversation, error) {
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	id := uuid.NewString()

	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)"),
		id, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &Conversation{
		ConversationSummary: ConversationSummary{ID: id, Title: title, CreatedAt: now, UpdatedAt: now},
	}, nil
}

func (s *sqlHistoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?"), id).
		Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT role, content, created_at, thoughts_json, duration FROM messages WHERE conversation_id = ? ORDER BY id"), id)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg StoredMessage
		var thoughtsJSON sql.NullString
		var duration sql.NullFloat64
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.CreatedAt, &thoughtsJSON, &duration); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if thoughtsJSON.Valid && thoughtsJSON.String != "" {
			if err := json.Unmarshal([]byte(thoughtsJSON.String), &msg.Thoughts); err != nil {
				msg.Thoughts = nil
			}
		}
		if duration.Valid {
			msg.Duration = duration.Float64
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return &conv, rows.Err()
}

func (s *sqlHistoryStore) GetOrCreate(ctx context.Context, id string) (*Conversation, error) {
	if id != "" {
		conv, err := s.Get(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.Create(ctx, DefaultTitle)
}

func (s *sqlHistoryStore) ListSummaries(ctx context.Context) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (s *sqlHistoryStore) SearchSummaries(ctx context.Context, query string) ([]ConversationSummary, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT DISTINCT c.id, c.title, c.created_at, c.updated_at
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 WHERE LOWER(c.title) LIKE ? OR LOWER(m.content) LIKE ?
		 ORDER BY c.updated_at DESC`), pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (s *sqlHistoryStore) AddMessage(ctx context.Context, conversationID string, msg StoredMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var thoughtsJSON any
	if len(msg.Thoughts) > 0 {
		data, err := json.Marshal(msg.Thoughts)
		if err != nil {
			return fmt.Errorf("marshal thoughts: %w", err)
		}
		thoughtsJSON = string(data)
	}
	var duration any
	if msg.Duration > 0 {
		duration = msg.Duration
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(
		"INSERT INTO messages (conversation_id, role, content, created_at, thoughts_json, duration) VALUES (?, ?, ?, ?, ?, ?)"),
		conversationID, msg.Role, msg.Content, msg.CreatedAt, thoughtsJSON, duration); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		"UPDATE conversations SET updated_at = ? WHERE id = ?"),
		time.Now().UTC(), conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

func (s *sqlHistoryStore) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?"),
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlHistoryStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM messages WHERE conversation_id = ?"), id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM conversations WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlHistoryStore) Close() error { return s.db.Close() }

func scanSummaries(rows *sql.Rows) ([]ConversationSummary, error) {
	var out []ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
