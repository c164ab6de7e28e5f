package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"go-chat-relay/internal/apperr"
)

// Repository is the Postgres Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// directKey is unique per unordered user pair; group chats have none.
func directKey(c *Chat) sql.NullString {
	if c.IsGroupChat || len(c.ParticipantIDs) != 2 {
		return sql.NullString{}
	}
	a, b := c.ParticipantIDs[0], c.ParticipantIDs[1]
	if a > b {
		a, b = b, a
	}
	return sql.NullString{String: strconv.Itoa(a) + ":" + strconv.Itoa(b), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *Repository) CreateChat(ctx context.Context, c *Chat) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO chats (id, name, is_group_chat, admin_id, direct_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`
	err = tx.QueryRowContext(ctx, query, c.ID, c.Name, c.IsGroupChat, nullInt(c.AdminID), directKey(c)).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("direct chat already exists")
		}
		return fmt.Errorf("insert chat: %w", err)
	}

	for _, userID := range c.ParticipantIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)", c.ID, userID); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	return tx.Commit()
}

const chatColumns = "id, name, is_group_chat, admin_id, last_message_id, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	c := &Chat{}
	var admin sql.NullInt64
	var last uuid.NullUUID
	if err := row.Scan(&c.ID, &c.Name, &c.IsGroupChat, &admin, &last, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if admin.Valid {
		id := int(admin.Int64)
		c.AdminID = &id
	}
	if last.Valid {
		id := last.UUID
		c.LastMessageID = &id
	}
	return c, nil
}

func (r *Repository) participants(ctx context.Context, chatID uuid.UUID) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id FROM chat_participants WHERE chat_id = $1 ORDER BY seq", chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) GetChat(ctx context.Context, id uuid.UUID) (*Chat, error) {
	c, err := scanChat(r.db.QueryRowContext(ctx, "SELECT "+chatColumns+" FROM chats WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("chat does not exist")
		}
		return nil, err
	}
	if c.ParticipantIDs, err = r.participants(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repository) FindDirectChat(ctx context.Context, a, b int) (*Chat, error) {
	key := directKey(&Chat{ParticipantIDs: []int{a, b}})
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, "SELECT id FROM chats WHERE direct_key = $1", key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("chat does not exist")
		}
		return nil, err
	}
	return r.GetChat(ctx, id)
}

func (r *Repository) ListChatsForUser(ctx context.Context, userID int) ([]*Chat, error) {
	query := `
		SELECT c.id, c.name, c.is_group_chat, c.admin_id, c.last_message_id, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	var chats []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		chats = append(chats, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range chats {
		if c.ParticipantIDs, err = r.participants(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return chats, nil
}

// touch runs an UPDATE on a chat and reports NotFound when no row matched.
func (r *Repository) touch(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("chat does not exist")
	}
	return nil
}

func (r *Repository) RenameChat(ctx context.Context, id uuid.UUID, name string) error {
	return r.touch(ctx, "UPDATE chats SET name = $2, updated_at = now() WHERE id = $1", id, name)
}

func (r *Repository) SetAdmin(ctx context.Context, id uuid.UUID, adminID *int) error {
	return r.touch(ctx, "UPDATE chats SET admin_id = $2, updated_at = now() WHERE id = $1", id, nullInt(adminID))
}

// RefreshLastMessage locks the chat row before reading the newest message so
// that concurrent refreshes are serialized and the last one sees every commit.
func (r *Repository) RefreshLastMessage(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var locked int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM chats WHERE id = $1 FOR UPDATE", id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("chat does not exist")
	}
	if err != nil {
		return err
	}

	query := `UPDATE chats SET updated_at = now(), last_message_id = (
			SELECT m.id FROM messages m WHERE m.chat_id = $1 ORDER BY m.seq DESC LIMIT 1
		) WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) AddParticipant(ctx context.Context, id uuid.UUID, userID int) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)", id, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("participant already in a group chat")
		}
		return err
	}
	return r.touch(ctx, "UPDATE chats SET updated_at = now() WHERE id = $1", id)
}

func (r *Repository) RemoveParticipant(ctx context.Context, id uuid.UUID, userID int) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM chat_participants WHERE chat_id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("participant does not exist in the group chat")
	}
	return r.touch(ctx, "UPDATE chats SET updated_at = now() WHERE id = $1", id)
}

func (r *Repository) DeleteChat(ctx context.Context, id uuid.UUID) error {
	return r.touch(ctx, "DELETE FROM chats WHERE id = $1", id)
}

func (r *Repository) CreateMessage(ctx context.Context, m *Message) error {
	attachments, err := encodeAttachments(m.Attachments)
	if err != nil {
		return err
	}
	query := `INSERT INTO messages (id, chat_id, sender_id, content, attachments)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING created_at`
	return r.db.QueryRowContext(ctx, query, m.ID, m.ChatID, m.SenderID, m.Content, attachments).Scan(&m.CreatedAt)
}

const messageColumns = "id, chat_id, sender_id, content, attachments::text, created_at"

func scanMessage(row rowScanner) (*Message, error) {
	m := &Message{}
	var attachments string
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &attachments, &m.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if m.Attachments, err = decodeAttachments(attachments); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repository) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("message does not exist")
	}
	return m, err
}

func (r *Repository) ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]*Message, error) {
	return r.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE chat_id = $1 ORDER BY seq DESC LIMIT $2", chatID, limit)
}

func (r *Repository) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message does not exist")
	}
	return nil
}

func (r *Repository) DeleteMessagesByChat(ctx context.Context, chatID uuid.UUID) ([]*Message, error) {
	return r.queryMessages(ctx,
		"DELETE FROM messages WHERE chat_id = $1 RETURNING "+messageColumns, chatID)
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func encodeAttachments(a []Attachment) (string, error) {
	type stored struct {
		URL       string `json:"url"`
		LocalPath string `json:"localPath"`
	}
	out := make([]stored, 0, len(a))
	for _, att := range a {
		out = append(out, stored{URL: att.URL, LocalPath: att.LocalPath})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode attachments: %w", err)
	}
	return string(data), nil
}

func decodeAttachments(raw string) ([]Attachment, error) {
	var stored []struct {
		URL       string `json:"url"`
		LocalPath string `json:"localPath"`
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	out := make([]Attachment, 0, len(stored))
	for _, s := range stored {
		out = append(out, Attachment{URL: s.URL, LocalPath: s.LocalPath})
	}
	return out, nil
}
