package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/state"
)

// SQLiteStore implements all repositories using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	Messages *SQLiteMessageRepo
	Chats    *SQLiteChatRepo
	State    *SQLiteStateRepo
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dsn+sep+"_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to :memory: would get its own empty database.
	if strings.HasPrefix(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store := &SQLiteStore{
		db:       db,
		Messages: &SQLiteMessageRepo{db: db},
		Chats:    &SQLiteChatRepo{db: db},
		State:    &SQLiteStateRepo{db: db},
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	migration := `
	-- Chats table
	CREATE TABLE IF NOT EXISTS chats (
		jid TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		is_group BOOLEAN NOT NULL DEFAULT FALSE,
		last_message_time TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chats_group ON chats(is_group) WHERE is_group = TRUE;

	-- Messages table
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		chat_jid TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'chat',
		timestamp TIMESTAMP NOT NULL,
		is_from_me BOOLEAN NOT NULL DEFAULT FALSE,
		media_type TEXT NOT NULL DEFAULT '',
		quoted_id TEXT NOT NULL DEFAULT '',
		quoted_sender TEXT NOT NULL DEFAULT '',
		raw BLOB,
		PRIMARY KEY (id, chat_jid),
		FOREIGN KEY (chat_jid) REFERENCES chats(jid) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_id ON messages(id);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_timestamp ON messages(chat_jid, timestamp DESC);

	-- Client state table
	CREATE TABLE IF NOT EXISTS client_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		state TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	INSERT OR IGNORE INTO client_state (id, state, updated_at)
	VALUES (1, 'initializing', CURRENT_TIMESTAMP);

	-- Transitions history table
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		trigger TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		error TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := db.Exec(migration)
	return err
}

// SQLiteMessageRepo implements MessageRepository.
type SQLiteMessageRepo struct {
	db *sql.DB
}

const messageColumns = `id, chat_jid, sender, recipient, content, type, timestamp, is_from_me, media_type, quoted_id, quoted_sender, raw`

func (r *SQLiteMessageRepo) Store(ctx context.Context, msg *Message) error {
	query := `
		INSERT OR REPLACE INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	msgType := msg.Type
	if msgType == "" {
		msgType = "chat"
	}
	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.ChatJID, msg.Sender, msg.Recipient, msg.Content, msgType, msg.Timestamp, msg.IsFromMe,
		msg.MediaType, msg.QuotedID, msg.QuotedSender, msg.Raw,
	)
	return err
}

// GetByID returns the most recent message with the given id in any chat.
func (r *SQLiteMessageRepo) GetByID(ctx context.Context, msgID string) (*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, msgID)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *SQLiteMessageRepo) List(ctx context.Context, chatJID string, limit int) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_jid = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, chatJID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (r *SQLiteMessageRepo) Count(ctx context.Context, chatJID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE chat_jid = ?", chatJID).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	err := row.Scan(
		&msg.ID, &msg.ChatJID, &msg.Sender, &msg.Recipient, &msg.Content, &msg.Type, &msg.Timestamp, &msg.IsFromMe,
		&msg.MediaType, &msg.QuotedID, &msg.QuotedSender, &msg.Raw,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SQLiteChatRepo implements ChatRepository.
type SQLiteChatRepo struct {
	db *sql.DB
}

// Upsert inserts or updates a chat. An empty name or zero last message time
// keeps the stored value.
func (r *SQLiteChatRepo) Upsert(ctx context.Context, chat *Chat) error {
	query := `
		INSERT INTO chats (jid, name, is_group, last_message_time, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			is_group = excluded.is_group,
			last_message_time = COALESCE(excluded.last_message_time, chats.last_message_time),
			updated_at = excluded.updated_at
	`
	var lastMsg sql.NullTime
	if !chat.LastMessageTime.IsZero() {
		lastMsg = sql.NullTime{Time: chat.LastMessageTime, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query, chat.JID, chat.Name, chat.IsGroup, lastMsg, time.Now())
	return err
}

func (r *SQLiteChatRepo) GetByJID(ctx context.Context, jid string) (*Chat, error) {
	query := `SELECT jid, name, is_group, last_message_time, updated_at FROM chats WHERE jid = ?`
	chat, err := scanChat(r.db.QueryRowContext(ctx, query, jid))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func (r *SQLiteChatRepo) ListGroups(ctx context.Context) ([]Chat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT jid, name, is_group, last_message_time, updated_at
		FROM chats
		WHERE is_group = TRUE
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

func (r *SQLiteChatRepo) UpdateLastMessage(ctx context.Context, jid string, t time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE chats SET last_message_time = ?, updated_at = ? WHERE jid = ?", t, time.Now(), jid)
	return err
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	var lastMsgTime sql.NullTime
	if err := row.Scan(&chat.JID, &chat.Name, &chat.IsGroup, &lastMsgTime, &chat.UpdatedAt); err != nil {
		return nil, err
	}
	if lastMsgTime.Valid {
		chat.LastMessageTime = lastMsgTime.Time
	}
	return &chat, nil
}

// SQLiteStateRepo implements StateRepository.
type SQLiteStateRepo struct {
	db *sql.DB
}

func (r *SQLiteStateRepo) GetState(ctx context.Context) (state.State, error) {
	var s string
	err := r.db.QueryRowContext(ctx, "SELECT state FROM client_state WHERE id = 1").Scan(&s)
	if err != nil {
		return "", err
	}
	return state.State(s), nil
}

func (r *SQLiteStateRepo) SaveState(ctx context.Context, s state.State) error {
	_, err := r.db.ExecContext(ctx, "UPDATE client_state SET state = ?, updated_at = ? WHERE id = 1", string(s), time.Now())
	return err
}

func (r *SQLiteStateRepo) LogTransition(ctx context.Context, from, to state.State, trigger, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO transitions (from_state, to_state, trigger, timestamp, error) VALUES (?, ?, ?, ?, ?)",
		string(from), string(to), trigger, time.Now(), errMsg,
	)
	return err
}

func (r *SQLiteStateRepo) GetTransitionHistory(ctx context.Context, limit int) ([]Transition, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, from_state, to_state, trigger, timestamp, error FROM transitions ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		var from, to string
		err := rows.Scan(&t.ID, &from, &to, &t.Trigger, &t.Timestamp, &t.Error)
		if err != nil {
			return nil, err
		}
		t.FromState = state.State(from)
		t.ToState = state.State(to)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
