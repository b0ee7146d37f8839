// ABOUTME: Tests for the SQLite inbox backend
// ABOUTME: Covers pair isolation, newest-first ordering, non-overlapping pages, sends, and announcements

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/resale-inbox/internal/auth"
	"github.com/2389/resale-inbox/internal/envelope"
	"github.com/2389/resale-inbox/internal/inbox"
)

var (
	alice = auth.Session{AccessToken: "t-alice", UserID: "alice"}
	bob   = auth.Session{AccessToken: "t-bob", UserID: "bob"}
	base  = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for _, p := range []Profile{
		{ID: "alice", Username: "alice"},
		{ID: "bob", Username: "bob", AvatarURL: "https://cdn/bob.png"},
		{ID: "carol", Username: "carol"},
	} {
		require.NoError(t, s.UpsertProfile(ctx, p))
	}
	return s
}

func str(s string) *string { return &s }

func insert(t *testing.T, s *SQLiteStore, id, from, to string, at time.Time) {
	t.Helper()
	require.NoError(t, s.InsertMessage(context.Background(), inbox.MessageRow{
		ID:         id,
		SenderID:   from,
		ReceiverID: str(to),
		Content:    "msg " + id,
		CreatedAt:  at,
	}))
}

func ids(rows []inbox.MessageRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "inbox.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UpsertProfile(context.Background(), Profile{ID: "alice", Username: "alice"}))
	insert(t, s, "m1", "alice", "bob", base)

	rows, err := s.ListMessages(context.Background(), alice, "bob", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(rows))
}

func TestListMessages_OnlyThePair(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, "ab1", "alice", "bob", base)
	insert(t, s, "ba1", "bob", "alice", base.Add(time.Minute))
	insert(t, s, "ac1", "alice", "carol", base.Add(2*time.Minute))
	insert(t, s, "cb1", "carol", "bob", base.Add(3*time.Minute))

	rows, err := s.ListMessages(context.Background(), alice, "bob", 50)
	require.NoError(t, err)

	assert.Equal(t, []string{"ba1", "ab1"}, ids(rows))
	for _, r := range rows {
		pair := []string{r.SenderID, *r.ReceiverID}
		assert.ElementsMatch(t, []string{"alice", "bob"}, pair)
	}
}

func TestListMessages_NewestFirstWithIDTieBreak(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, "m-a", "alice", "bob", base)
	insert(t, s, "m-c", "bob", "alice", base)
	insert(t, s, "m-b", "alice", "bob", base)
	insert(t, s, "m-d", "alice", "bob", base.Add(time.Nanosecond))

	rows, err := s.ListMessages(context.Background(), alice, "bob", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"m-d", "m-c", "m-b", "m-a"}, ids(rows))
}

func TestListMessages_LimitKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	for i := range 10 {
		insert(t, s, fmt.Sprintf("m%02d", i), "alice", "bob", base.Add(time.Duration(i)*time.Second))
	}

	rows, err := s.ListMessages(context.Background(), bob, "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m09", "m08", "m07"}, ids(rows))
}

func TestListMessages_EmbedsSender(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, "m1", "bob", "alice", base)

	rows, err := s.ListMessages(context.Background(), alice, "bob", 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Sender)
	assert.Equal(t, "bob", rows[0].Sender.Username)
	require.NotNil(t, rows[0].Sender.AvatarURL)
	assert.Equal(t, "https://cdn/bob.png", *rows[0].Sender.AvatarURL)
	assert.Equal(t, base, rows[0].CreatedAt)
	assert.Equal(t, StatusSent, rows[0].Status)
	assert.Equal(t, MessageTypeUser, rows[0].MessageType)
}

func TestListMessagesBefore_TimeCursorPagesDoNotOverlap(t *testing.T) {
	s := newTestStore(t)
	for i := range 45 {
		insert(t, s, fmt.Sprintf("m%02d", i), "alice", "bob", base.Add(time.Duration(i)*time.Second))
	}
	ctx := context.Background()

	first, err := s.ListMessagesBefore(ctx, alice, "bob", inbox.Before(base.Add(45*time.Second)), 20)
	require.NoError(t, err)
	require.Len(t, first, 20)

	oldest := first[len(first)-1]
	second, err := s.ListMessagesBefore(ctx, alice, "bob", inbox.Before(oldest.CreatedAt), 20)
	require.NoError(t, err)
	require.Len(t, second, 20)

	third, err := s.ListMessagesBefore(ctx, alice, "bob", inbox.Before(second[len(second)-1].CreatedAt), 20)
	require.NoError(t, err)
	assert.Len(t, third, 5)

	seen := map[string]bool{}
	for _, page := range [][]inbox.MessageRow{first, second, third} {
		for _, r := range page {
			assert.False(t, seen[r.ID], "message %s returned twice", r.ID)
			seen[r.ID] = true
		}
	}
	assert.Len(t, seen, 45)
	assert.True(t, second[0].CreatedAt.Before(oldest.CreatedAt))
}

func TestListMessagesBefore_KeysetCursorSplitsSameTimestamp(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		insert(t, s, id, "alice", "bob", base)
	}
	insert(t, s, "z-old", "bob", "alice", base.Add(-time.Second))
	ctx := context.Background()

	first, err := s.ListMessagesBefore(ctx, alice, "bob", inbox.Cursor{CreatedAt: base, ID: "e"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, ids(first))

	last := inbox.ToMessage(first[len(first)-1])
	second, err := s.ListMessagesBefore(ctx, alice, "bob", inbox.CursorOf(last), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(second))

	third, err := s.ListMessagesBefore(ctx, alice, "bob", inbox.CursorOf(inbox.ToMessage(second[1])), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"z-old"}, ids(third))
}

func TestListMessagesBefore_RequiresCursor(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ListMessagesBefore(context.Background(), alice, "bob", inbox.Cursor{}, 20)
	require.Error(t, err)
}

func TestList_RequiresSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ListConversations(ctx, auth.Session{}, 50)
	assert.ErrorIs(t, err, auth.ErrNoSession)
	_, err = s.ListMessages(ctx, auth.Session{}, "bob", 50)
	assert.ErrorIs(t, err, auth.ErrNoSession)
	ok, err := s.SendMessage(ctx, auth.Session{}, inbox.SendRequest{ReceiverID: "bob", Content: "hi"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, auth.ErrNoSession)
}

func TestListConversations_GroupsByPairAndProduct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	price := 42.5
	require.NoError(t, s.UpsertProduct(ctx, Product{
		ID: "jacket", SellerID: "bob", Title: "Denim jacket", Images: []string{"j1.jpg", "j2.jpg"}, Price: &price,
	}))

	insert(t, s, "g1", "alice", "bob", base)
	require.NoError(t, s.InsertMessage(ctx, inbox.MessageRow{
		ID: "p1", SenderID: "bob", ReceiverID: str("alice"), ProductID: str("jacket"),
		Content: "still available", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, s.InsertMessage(ctx, inbox.MessageRow{
		ID: "p2", SenderID: "bob", ReceiverID: str("alice"), ProductID: str("jacket"),
		Content: "price is firm", CreatedAt: base.Add(2 * time.Minute),
	}))
	insert(t, s, "c1", "carol", "bob", base.Add(3*time.Minute))

	rows, err := s.ListConversations(ctx, alice, 50)
	require.NoError(t, err)
	require.Len(t, rows, 2, "alice sees a product thread and a general thread with bob")

	product := rows[0]
	require.NotNil(t, product.ProductID)
	assert.Equal(t, "jacket", *product.ProductID)
	require.NotNil(t, product.LastMessage)
	assert.Equal(t, "price is firm", *product.LastMessage)
	require.NotNil(t, product.LastMessageAt)
	assert.Equal(t, base.Add(2*time.Minute), *product.LastMessageAt)
	assert.Equal(t, 2, product.UnreadCount)
	require.NotNil(t, product.Product)
	assert.Equal(t, []string{"j1.jpg", "j2.jpg"}, product.Product.Images)
	require.NotNil(t, product.Product.Price)
	assert.Equal(t, 42.5, *product.Product.Price)

	general := rows[1]
	assert.Nil(t, general.ProductID)
	assert.Nil(t, general.Product)
	assert.Equal(t, 0, general.UnreadCount, "alice sent the only general message")

	conv := inbox.ToConversation(product, "alice")
	assert.Equal(t, "bob__jacket", conv.ID)
	assert.Equal(t, "bob", conv.Name)
	assert.True(t, conv.IsProductConversation)
}

func TestInsertMessage_OlderImportDoesNotRewindConversation(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, "new", "alice", "bob", base.Add(time.Hour))
	insert(t, s, "old", "bob", "alice", base)

	rows, err := s.ListConversations(context.Background(), alice, 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "msg new", *rows[0].LastMessage)
}

func TestInsertMessage_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InsertMessage(ctx, inbox.MessageRow{SenderID: "alice", Content: "x", CreatedAt: base})
	require.Error(t, err)

	err = s.InsertMessage(ctx, inbox.MessageRow{SenderID: "alice", ReceiverID: str("alice"), Content: "x", CreatedAt: base})
	assert.ErrorIs(t, err, ErrSelfMessage)
}

func TestTagConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertProduct(ctx, Product{ID: "boots", SellerID: "alice", Title: "Boots"}))
	require.NoError(t, s.InsertMessage(ctx, inbox.MessageRow{
		SenderID: "bob", ReceiverID: str("alice"), ProductID: str("boots"), Content: "offer 30?", CreatedAt: base,
	}))

	require.NoError(t, s.TagConversation(ctx, "bob", "alice", str("boots"), str("order-9"), true))
	assert.ErrorIs(t, s.TagConversation(ctx, "bob", "carol", nil, nil, false), ErrNotFound)

	rows, err := s.ListConversations(ctx, bob, 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsOffer)
	require.NotNil(t, rows[0].OrderID)
	assert.Equal(t, "order-9", *rows[0].OrderID)
}

type publishCall struct {
	topic string
	msg   envelope.NewMessage
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, msg envelope.NewMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{topic, msg})
	return p.err
}

func TestSendMessage_StoresAndAnnouncesToBothParticipants(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return base }
	pub := &fakePublisher{}
	s.SetPublisher(pub)

	ok, err := s.SendMessage(context.Background(), alice, inbox.SendRequest{
		ReceiverID: "bob", ProductID: str("jacket"), Content: "is this available?",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := s.ListMessages(context.Background(), bob, "alice", 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "is this available?", rows[0].Content)
	assert.Equal(t, base, rows[0].CreatedAt)

	require.Len(t, pub.calls, 2)
	assert.Equal(t, "user:bob:notifications", pub.calls[0].topic)
	assert.Equal(t, "alice__jacket", pub.calls[0].msg.ConversationID)
	assert.Equal(t, "bob", pub.calls[0].msg.ForUser)
	assert.Equal(t, rows[0].ID, pub.calls[0].msg.Message.ID)

	assert.Equal(t, "user:alice:notifications", pub.calls[1].topic)
	assert.Equal(t, "bob__jacket", pub.calls[1].msg.ConversationID)
	assert.Equal(t, "alice", pub.calls[1].msg.ForUser)
}

func TestSendMessage_PublishFailureStillSucceeds(t *testing.T) {
	s := newTestStore(t)
	s.SetPublisher(&fakePublisher{err: fmt.Errorf("hub closed")})

	ok, err := s.SendMessage(context.Background(), alice, inbox.SendRequest{ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpsert_RejectsIDsThatBreakConversationIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.UpsertProfile(ctx, Profile{ID: "dan__x", Username: "dan"}), inbox.ErrInvalidConversationID)
	assert.ErrorIs(t, s.UpsertProduct(ctx, Product{ID: "b__1", SellerID: "alice", Title: "Boots"}), inbox.ErrInvalidConversationID)
	assert.ErrorIs(t, s.UpsertProduct(ctx, Product{ID: "general", SellerID: "alice", Title: "Boots"}), inbox.ErrInvalidConversationID)
}
