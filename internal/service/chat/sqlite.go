package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
)

const sqliteSchema = `
create table if not exists threads (
	id           text primary key,
	assistant_id text not null,
	title        text not null default '',
	created_at   integer not null,
	updated_at   integer not null
);
create table if not exists messages (
	id              text primary key,
	thread_id       text not null references threads(id) on delete cascade,
	role            text not null,
	content         text not null,
	tool_name       text not null default '',
	tool_call_id    text not null default '',
	structured_json text,
	created_at      integer not null
);
create index if not exists messages_thread_idx on messages(thread_id, created_at);
`

// SQLiteStore persists threads in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and creates the schema when missing.
// In-memory databases are pinned to one connection so all callers share it.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, "pragma foreign_keys = on"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateThread(ctx context.Context, thread chat.Thread) error {
	const q = `insert into threads (id, assistant_id, title, created_at, updated_at) values (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, thread.ID, thread.AssistantID, thread.Title,
		thread.CreatedAt.UnixNano(), thread.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (chat.Thread, error) {
	const q = `select id, assistant_id, title, created_at, updated_at from threads where id = ?`
	thread, err := scanThread(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Thread{}, ErrThreadNotFound
	}
	return thread, err
}

func (s *SQLiteStore) UpdateThread(ctx context.Context, thread chat.Thread) error {
	const q = `update threads set assistant_id = ?, title = ?, updated_at = ? where id = ?`
	res, err := s.db.ExecContext(ctx, q, thread.AssistantID, thread.Title, thread.UpdatedAt.UnixNano(), thread.ID)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	return expectRow(res)
}

func (s *SQLiteStore) ListThreads(ctx context.Context) ([]chat.Thread, error) {
	const q = `select id, assistant_id, title, created_at, updated_at from threads order by updated_at desc`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := make([]chat.Thread, 0, 16)
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete thread: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from messages where thread_id = ?`, id); err != nil {
		return fmt.Errorf("delete thread messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `delete from threads where id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if err := expectRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, message chat.Message) error {
	if _, err := s.GetThread(ctx, message.ThreadID); err != nil {
		return err
	}

	var structured sql.NullString
	if message.Structured != nil {
		b, err := json.Marshal(message.Structured)
		if err != nil {
			return fmt.Errorf("encode structured reply: %w", err)
		}
		structured = sql.NullString{String: string(b), Valid: true}
	}

	const q = `insert into messages (id, thread_id, role, content, tool_name, tool_call_id, structured_json, created_at)
values (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, message.ID, message.ThreadID, string(message.Role), message.Content,
		message.ToolName, message.ToolCallID, structured, message.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string) ([]chat.Message, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}

	const q = `select id, thread_id, role, content, tool_name, tool_call_id, structured_json, created_at
from messages where thread_id = ? order by created_at, rowid`
	rows, err := s.db.QueryContext(ctx, q, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, 16)
	for rows.Next() {
		var (
			msg        chat.Message
			role       string
			structured sql.NullString
			created    int64
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &role, &msg.Content, &msg.ToolName, &msg.ToolCallID, &structured, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		msg.CreatedAt = time.Unix(0, created).UTC()
		if structured.Valid {
			var resp analyst.Response
			if err := json.Unmarshal([]byte(structured.String), &resp); err == nil {
				msg.Structured = &resp
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (chat.Thread, error) {
	var (
		thread           chat.Thread
		created, updated int64
	)
	if err := row.Scan(&thread.ID, &thread.AssistantID, &thread.Title, &created, &updated); err != nil {
		return chat.Thread{}, err
	}
	thread.CreatedAt = time.Unix(0, created).UTC()
	thread.UpdatedAt = time.Unix(0, updated).UTC()
	return thread, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrThreadNotFound
	}
	return nil
}
