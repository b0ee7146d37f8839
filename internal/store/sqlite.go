// ABOUTME: SQLite implementation of the inbox backend using modernc.org/sqlite
// ABOUTME: Conversation list, newest-first message pages, keyset pagination, and sends

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/resale-inbox/internal/auth"
	"github.com/2389/resale-inbox/internal/envelope"
	"github.com/2389/resale-inbox/internal/inbox"
	"github.com/2389/resale-inbox/internal/realtime"
)

// SQLiteStore implements the conversation backend and sender on SQLite
type SQLiteStore struct {
	db        *sql.DB
	logger    *slog.Logger
	publisher realtime.Publisher
	now       func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// SetPublisher announces stored messages on p. Call before first use.
func (s *SQLiteStore) SetPublisher(p realtime.Publisher) {
	s.publisher = p
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL,
			avatar_url TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS products (
			id          TEXT PRIMARY KEY,
			seller_id   TEXT NOT NULL REFERENCES profiles(id),
			title       TEXT NOT NULL,
			images_json TEXT NOT NULL DEFAULT '[]',
			price       REAL,
			created_at  TEXT NOT NULL
		);

		-- participant1_id < participant2_id; product_key is '' for general conversations
		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			participant1_id TEXT NOT NULL,
			participant2_id TEXT NOT NULL,
			product_id      TEXT,
			product_key     TEXT NOT NULL DEFAULT '',
			order_id        TEXT,
			is_offer        INTEGER NOT NULL DEFAULT 0,
			last_message    TEXT,
			last_message_at TEXT,
			created_at      TEXT NOT NULL,

			UNIQUE (participant1_id, participant2_id, product_key),
			CHECK (participant1_id < participant2_id)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_p1 ON conversations(participant1_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_p2 ON conversations(participant2_id);

		CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			sender_id    TEXT NOT NULL,
			receiver_id  TEXT NOT NULL,
			product_id   TEXT,
			content      TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			updated_at   TEXT,
			is_read      INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'sent',
			message_type TEXT NOT NULL DEFAULT 'user'
		);

		CREATE INDEX IF NOT EXISTS idx_messages_pair_created
			ON messages(sender_id, receiver_id, created_at DESC, id DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertProfile creates or updates a profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p Profile) error {
	if err := inbox.ValidateParts(p.ID, ""); err != nil {
		return fmt.Errorf("profile id: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, avatar_url, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username, avatar_url = excluded.avatar_url
	`, p.ID, p.Username, nullString(p.AvatarURL), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// UpsertProduct creates or updates a product. The seller profile must exist.
func (s *SQLiteStore) UpsertProduct(ctx context.Context, p Product) error {
	if err := inbox.ValidateParts(p.SellerID, p.ID); err != nil {
		return fmt.Errorf("product id: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	images := p.Images
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("marshaling images: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, seller_id, title, images_json, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seller_id = excluded.seller_id,
			title = excluded.title,
			images_json = excluded.images_json,
			price = excluded.price
	`, p.ID, p.SellerID, p.Title, string(imagesJSON), p.Price, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting product: %w", err)
	}
	return nil
}

// TagConversation links the conversation between two users about a product
// to an order or marks it as an offer thread. The conversation must exist.
func (s *SQLiteStore) TagConversation(ctx context.Context, userA, userB string, productID *string, orderID *string, isOffer bool) error {
	p1, p2 := orderedPair(userA, userB)
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET order_id = ?, is_offer = ?
		WHERE participant1_id = ? AND participant2_id = ? AND product_key = ?
	`, orderID, isOffer, p1, p2, productKey(productID))
	if err != nil {
		return fmt.Errorf("tagging conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tagging conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversations returns the caller's conversations, most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context, sess auth.Session, limit int) ([]inbox.ConversationRow, error) {
	me := sess.UserID
	if me == "" {
		return nil, auth.ErrNoSession
	}

	query := `
		SELECT c.id, c.participant1_id, c.participant2_id, c.product_id, c.order_id, c.is_offer,
			c.last_message, c.last_message_at, c.created_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.receiver_id = ? AND m.is_read = 0
					AND m.sender_id = CASE WHEN c.participant1_id = ? THEN c.participant2_id ELSE c.participant1_id END
					AND IFNULL(m.product_id, '') = c.product_key),
			p1.id, p1.username, p1.avatar_url,
			p2.id, p2.username, p2.avatar_url,
			pr.id, pr.title, pr.images_json, pr.price
		FROM conversations c
		LEFT JOIN profiles p1 ON p1.id = c.participant1_id
		LEFT JOIN profiles p2 ON p2.id = c.participant2_id
		LEFT JOIN products pr ON pr.id = c.product_id
		WHERE c.participant1_id = ? OR c.participant2_id = ?
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, me, me, me, me, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []inbox.ConversationRow
	for rows.Next() {
		var (
			row                         inbox.ConversationRow
			productID, orderID, lastMsg sql.NullString
			lastMsgAt                   sql.NullString
			createdAt                   string
			p1, p2                      participantCols
			pr                          productCols
		)
		if err := rows.Scan(
			&row.ID, &row.Participant1ID, &row.Participant2ID, &productID, &orderID, &row.IsOffer,
			&lastMsg, &lastMsgAt, &createdAt, &row.UnreadCount,
			&p1.id, &p1.username, &p1.avatar,
			&p2.id, &p2.username, &p2.avatar,
			&pr.id, &pr.title, &pr.images, &pr.price,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		row.ProductID = ptr(productID)
		row.OrderID = ptr(orderID)
		row.LastMessage = ptr(lastMsg)
		if row.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing conversation created_at: %w", err)
		}
		if lastMsgAt.Valid {
			t, err := parseTime(lastMsgAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_message_at: %w", err)
			}
			row.LastMessageAt = &t
		}
		row.Participant1 = p1.row()
		row.Participant2 = p2.row()
		if row.Product, err = pr.row(); err != nil {
			return nil, err
		}

		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return out, nil
}

// ListMessages returns the newest messages between the caller and
// otherUserID, sorted created_at DESC, id DESC.
func (s *SQLiteStore) ListMessages(ctx context.Context, sess auth.Session, otherUserID string, limit int) ([]inbox.MessageRow, error) {
	return s.listMessages(ctx, sess, otherUserID, inbox.Cursor{}, limit)
}

// ListMessagesBefore returns messages between the caller and otherUserID
// strictly older than cursor, sorted created_at DESC, id DESC.
func (s *SQLiteStore) ListMessagesBefore(ctx context.Context, sess auth.Session, otherUserID string, cursor inbox.Cursor, limit int) ([]inbox.MessageRow, error) {
	if cursor.IsZero() {
		return nil, errors.New("listing older messages: cursor required")
	}
	return s.listMessages(ctx, sess, otherUserID, cursor, limit)
}

func (s *SQLiteStore) listMessages(ctx context.Context, sess auth.Session, otherUserID string, cursor inbox.Cursor, limit int) ([]inbox.MessageRow, error) {
	me := sess.UserID
	if me == "" {
		return nil, auth.ErrNoSession
	}

	var b strings.Builder
	b.WriteString(`
		SELECT m.id, m.sender_id, m.receiver_id, m.product_id, m.content, m.created_at, m.updated_at,
			m.is_read, m.status, m.message_type,
			p.id, p.username, p.avatar_url
		FROM messages m
		LEFT JOIN profiles p ON p.id = m.sender_id
		WHERE ((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))
	`)
	args := []any{me, otherUserID, otherUserID, me}

	switch {
	case cursor.IsZero():
	case cursor.ID == "":
		b.WriteString(` AND m.created_at < ?`)
		args = append(args, formatTime(cursor.CreatedAt))
	default:
		ts := formatTime(cursor.CreatedAt)
		b.WriteString(` AND (m.created_at < ? OR (m.created_at = ? AND m.id < ?))`)
		args = append(args, ts, ts, cursor.ID)
	}

	b.WriteString(` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []inbox.MessageRow
	for rows.Next() {
		var (
			row                 inbox.MessageRow
			receiverID, product sql.NullString
			createdAt           string
			updatedAt           sql.NullString
			sender              participantCols
		)
		if err := rows.Scan(
			&row.ID, &row.SenderID, &receiverID, &product, &row.Content, &createdAt, &updatedAt,
			&row.IsRead, &row.Status, &row.MessageType,
			&sender.id, &sender.username, &sender.avatar,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		row.ReceiverID = ptr(receiverID)
		row.ProductID = ptr(product)
		if row.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		if updatedAt.Valid {
			t, err := parseTime(updatedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing message updated_at: %w", err)
			}
			row.UpdatedAt = &t
		}
		row.Sender = sender.row()

		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return out, nil
}

// SendMessage stores a message from the session user and announces it.
func (s *SQLiteStore) SendMessage(ctx context.Context, sess auth.Session, req inbox.SendRequest) (bool, error) {
	if sess.UserID == "" {
		return false, auth.ErrNoSession
	}
	row := inbox.MessageRow{
		ID:          uuid.New().String(),
		SenderID:    sess.UserID,
		ReceiverID:  &req.ReceiverID,
		ProductID:   req.ProductID,
		Content:     req.Content,
		CreatedAt:   s.now().UTC(),
		Status:      StatusSent,
		MessageType: MessageTypeUser,
	}
	if err := s.InsertMessage(ctx, row); err != nil {
		return false, err
	}
	s.announce(ctx, row)
	return true, nil
}

// InsertMessage stores a message as-is and updates its conversation. Used
// for sends and for importing history with fixed timestamps.
func (s *SQLiteStore) InsertMessage(ctx context.Context, row inbox.MessageRow) error {
	if row.ReceiverID == nil || *row.ReceiverID == "" {
		return errors.New("inserting message: receiver required")
	}
	if row.SenderID == *row.ReceiverID {
		return ErrSelfMessage
	}
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.Status == "" {
		row.Status = StatusSent
	}
	if row.MessageType == "" {
		row.MessageType = MessageTypeUser
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var updatedAt any
	if row.UpdatedAt != nil {
		updatedAt = formatTime(*row.UpdatedAt)
	}
	createdAt := formatTime(row.CreatedAt)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, product_id, content, created_at, updated_at, is_read, status, message_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.SenderID, *row.ReceiverID, row.ProductID, row.Content, createdAt, updatedAt, row.IsRead, row.Status, row.MessageType)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	p1, p2 := orderedPair(row.SenderID, *row.ReceiverID)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, participant1_id, participant2_id, product_id, product_key, last_message, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(participant1_id, participant2_id, product_key) DO UPDATE SET
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at
		WHERE conversations.last_message_at IS NULL OR excluded.last_message_at >= conversations.last_message_at
	`, uuid.New().String(), p1, p2, row.ProductID, productKey(row.ProductID), row.Content, createdAt, createdAt)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("stored message", "id", row.ID, "sender_id", row.SenderID, "receiver_id", *row.ReceiverID)
	return nil
}

// announce publishes the stored message to both participants. Failures are
// logged; the message is already stored and the next poll will pick it up.
func (s *SQLiteStore) announce(ctx context.Context, row inbox.MessageRow) {
	if s.publisher == nil {
		return
	}
	product := ""
	if row.ProductID != nil {
		product = *row.ProductID
	}
	receiver := *row.ReceiverID

	targets := []struct{ user, counterpart string }{
		{receiver, row.SenderID},
		{row.SenderID, receiver},
	}
	for _, target := range targets {
		msg := envelope.NewMessage{
			ConversationID: inbox.Compose(target.counterpart, product),
			ForUser:        target.user,
			Message:        &row,
		}
		if err := s.publisher.Publish(ctx, realtime.Topic(target.user), msg); err != nil {
			s.logger.Warn("publishing new message failed", "message_id", row.ID, "user_id", target.user, "error", err)
		}
	}
}

type participantCols struct {
	id, username, avatar sql.NullString
}

func (c participantCols) row() *inbox.ParticipantRow {
	if !c.id.Valid {
		return nil
	}
	return &inbox.ParticipantRow{ID: c.id.String, Username: c.username.String, AvatarURL: ptr(c.avatar)}
}

type productCols struct {
	id, title, images sql.NullString
	price             sql.NullFloat64
}

func (c productCols) row() (*inbox.ProductRow, error) {
	if !c.id.Valid {
		return nil, nil
	}
	p := &inbox.ProductRow{ID: c.id.String, Title: c.title.String}
	if c.images.Valid {
		if err := json.Unmarshal([]byte(c.images.String), &p.Images); err != nil {
			return nil, fmt.Errorf("parsing product images: %w", err)
		}
	}
	if c.price.Valid {
		price := c.price.Float64
		p.Price = &price
	}
	return p, nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func productKey(productID *string) string {
	if productID == nil {
		return ""
	}
	return *productID
}
