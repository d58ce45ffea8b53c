package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chatflow/internal/chat"
)

var ErrNotFound = errors.New("not found")

var _ chat.Persister = (*Store)(nil)

// PersistConversation makes the stored message list of u.ChatID equal to
// u.Messages, in order. Rows for messages no longer in the list, such as those
// cut by a rewind, are deleted.
func (s *Store) PersistConversation(ctx context.Context, u chat.ConversationUpdate) error {
	if u.ChatID == "" {
		return fmt.Errorf("persist conversation: empty chat id")
	}
	for _, m := range u.Messages {
		if chat.IsProvisionalID(m.ID) {
			return fmt.Errorf("persist conversation: provisional message %s", m.ID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsertChat(ctx, tx, u.ChatID, u.Created); err != nil {
		return err
	}

	del := s.sql.Delete("chat_messages").Where(sq.Eq{"chat_id": u.ChatID})
	if len(u.Messages) > 0 {
		keep := make([]string, 0, len(u.Messages))
		for _, m := range u.Messages {
			keep = append(keep, m.ID)
		}
		del = del.Where(sq.NotEq{"id": keep})
	}
	sqlStr, args, err := del.ToSql()
	if err != nil {
		return fmt.Errorf("build prune messages query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}

	for i, m := range u.Messages {
		if err := s.upsertMessage(ctx, tx, u.ChatID, i, m); err != nil {
			return err
		}
	}

	userID := ""
	if u.Created != nil {
		userID = u.Created.UserID
		if err := s.logAction(ctx, tx, AuditEntry{ChatID: u.ChatID, UserID: userID, Action: ActionChatCreated}); err != nil {
			return err
		}
	}
	if u.Rewound {
		meta, _ := json.Marshal(map[string]int{"messages": len(u.Messages)})
		if err := s.logAction(ctx, tx, AuditEntry{ChatID: u.ChatID, UserID: userID, Action: ActionChatRewound, MetaJSON: string(meta)}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation: %w", err)
	}
	return nil
}

func (s *Store) upsertChat(ctx context.Context, tx *sql.Tx, chatID string, c *chat.Chat) error {
	var q sq.InsertBuilder
	if c != nil {
		created := c.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		q = s.sql.Insert("chats").
			Columns("id", "title", "user_id", "organization_id", "system_prompt_id", "created_at", "updated_at").
			Values(chatID, c.Title, c.UserID, c.OrganizationID, c.SystemPromptID, created, nowExpr(s.driver)).
			Suffix("ON CONFLICT(id) DO UPDATE SET title=excluded.title, organization_id=excluded.organization_id, updated_at=excluded.updated_at")
	} else {
		q = s.sql.Insert("chats").
			Columns("id", "updated_at").
			Values(chatID, nowExpr(s.driver)).
			Suffix("ON CONFLICT(id) DO UPDATE SET updated_at=excluded.updated_at")
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build chat upsert query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

func (s *Store) upsertMessage(ctx context.Context, tx *sql.Tx, chatID string, position int, m chat.Message) error {
	var usage *string
	if m.TokenUsage != nil {
		b, err := json.Marshal(m.TokenUsage)
		if err != nil {
			return fmt.Errorf("marshal token usage: %w", err)
		}
		v := string(b)
		usage = &v
	}
	created, updated := m.CreatedAt, m.UpdatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if updated.IsZero() {
		updated = created
	}

	q := s.sql.Insert("chat_messages").
		Columns("id", "chat_id", "position", "user_id", "role", "content", "ai_provider_id",
			"token_usage_json", "response_to_message_id", "is_active_in_thread", "created_at", "updated_at").
		Values(m.ID, chatID, position, m.UserID, string(m.Role), m.Content, m.ProviderID,
			usage, m.ResponseToMessageID, m.IsActiveInThread, created, updated).
		Suffix("ON CONFLICT(id) DO UPDATE SET chat_id=excluded.chat_id, position=excluded.position, content=excluded.content, " +
			"token_usage_json=excluded.token_usage_json, is_active_in_thread=excluded.is_active_in_thread, updated_at=excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build message upsert query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	return nil
}

const chatColumns = "id, title, user_id, organization_id, system_prompt_id, created_at, updated_at"

func (s *Store) GetChat(ctx context.Context, chatID string) (chat.Chat, error) {
	q := s.sql.Select(chatColumns).From("chats").Where(sq.Eq{"id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return chat.Chat{}, fmt.Errorf("build get chat query: %w", err)
	}
	c, err := scanChat(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Chat{}, ErrNotFound
		}
		return chat.Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

// ListChats returns the chats owned by userID, most recently updated first.
func (s *Store) ListChats(ctx context.Context, userID string) ([]chat.Chat, error) {
	q := s.sql.Select(chatColumns).
		From("chats").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("updated_at DESC", "id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := make([]chat.Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	q := s.sql.Select("id", "chat_id", "user_id", "role", "content", "ai_provider_id", "token_usage_json",
		"response_to_message_id", "is_active_in_thread", "created_at", "updated_at").
		From("chat_messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("position ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]chat.Message, 0)
	for rows.Next() {
		var (
			m                           chat.Message
			role                        string
			userID, providerID, replyTo sql.NullString
			usage                       sql.NullString
		)
		if err := rows.Scan(
			&m.ID,
			&m.ChatID,
			&userID,
			&role,
			&m.Content,
			&providerID,
			&usage,
			&replyTo,
			&m.IsActiveInThread,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.UserID = nullableString(userID)
		m.ProviderID = nullableString(providerID)
		m.ResponseToMessageID = nullableString(replyTo)
		if usage.Valid && strings.TrimSpace(usage.String) != "" {
			var tu chat.TokenUsage
			if err := json.Unmarshal([]byte(usage.String), &tu); err == nil {
				m.TokenUsage = &tu
			}
		}
		m.Status = chat.StatusSent
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *Store) logAction(ctx context.Context, tx *sql.Tx, e AuditEntry) error {
	if strings.TrimSpace(e.MetaJSON) == "" {
		e.MetaJSON = "{}"
	}
	if !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}

	q := s.sql.Insert("audit_log").
		Columns("chat_id", "user_id", "action", "meta_json").
		Values(e.ChatID, e.UserID, e.Action, e.MetaJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListActions returns the audit actions recorded for chatID, oldest first.
func (s *Store) ListActions(ctx context.Context, chatID string) ([]string, error) {
	q := s.sql.Select("action").From("audit_log").Where(sq.Eq{"chat_id": chatID}).OrderBy("id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list actions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(r rowScanner) (chat.Chat, error) {
	var (
		c             chat.Chat
		org, promptID sql.NullString
	)
	if err := r.Scan(&c.ID, &c.Title, &c.UserID, &org, &promptID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return chat.Chat{}, err
	}
	c.OrganizationID = nullableString(org)
	c.SystemPromptID = nullableString(promptID)
	return c, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
