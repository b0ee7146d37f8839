// ABOUTME: Conversation service orchestrating realtime push, polling fallback, loads, and sends
// ABOUTME: Owns the connection state machine; every fetch failure degrades to an empty result

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/resale-inbox/internal/auth"
	"github.com/2389/resale-inbox/internal/dedupe"
	"github.com/2389/resale-inbox/internal/envelope"
	"github.com/2389/resale-inbox/internal/events"
	"github.com/2389/resale-inbox/internal/inbox"
	"github.com/2389/resale-inbox/internal/poller"
	"github.com/2389/resale-inbox/internal/realtime"
)

// Default page sizes.
const (
	DefaultConversationLimit = 50
	DefaultMessageLimit      = 50
	DefaultOlderLimit        = 20
)

// Backend defines what the service needs from the data source. History
// calls must return rows sorted created_at DESC, id DESC with the limit
// applied after sorting.
type Backend interface {
	ListConversations(ctx context.Context, sess auth.Session, limit int) ([]inbox.ConversationRow, error)
	ListMessages(ctx context.Context, sess auth.Session, otherUserID string, limit int) ([]inbox.MessageRow, error)
	ListMessagesBefore(ctx context.Context, sess auth.Session, otherUserID string, cursor inbox.Cursor, limit int) ([]inbox.MessageRow, error)
}

// Sender delivers outbound messages.
type Sender interface {
	SendMessage(ctx context.Context, sess auth.Session, req inbox.SendRequest) (bool, error)
}

// Deps are the collaborators of a Service. Channel may be nil, in which case
// the service relies on polling alone.
type Deps struct {
	Backend  Backend
	Sender   Sender
	Channel  realtime.Channel
	Sessions auth.Provider
	Logger   *slog.Logger
}

// Options tune a Service. Zero values use the defaults.
type Options struct {
	PollInterval      time.Duration
	ConversationLimit int
	MessageLimit      int
	OlderLimit        int
	DedupeTTL         time.Duration
	DedupeSize        int
}

// Service is the inbox orchestrator a UI talks to.
//
// Listeners must not call SetupRealtimeSubscriptions or Cleanup
// synchronously from a poll_refresh callback.
type Service struct {
	backend  Backend
	sender   Sender
	channel  realtime.Channel
	sessions auth.Provider
	opts     Options
	logger   *slog.Logger

	emitter *events.Emitter
	poller  *poller.Poller
	seen    *dedupe.Cache

	// mu guards the fields below and is held across poller start/stop so a
	// stale callback can never restart polling after teardown.
	mu        sync.Mutex
	sub       realtime.Subscription
	cancelSub context.CancelFunc
	gen       uint64
	userID    string

	state atomic.Value // events.ConnState
}

// New creates a disconnected service.
func New(deps Deps, opts Options) *Service {
	if opts.ConversationLimit <= 0 {
		opts.ConversationLimit = DefaultConversationLimit
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = DefaultMessageLimit
	}
	if opts.OlderLimit <= 0 {
		opts.OlderLimit = DefaultOlderLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		backend:  deps.Backend,
		sender:   deps.Sender,
		channel:  deps.Channel,
		sessions: deps.Sessions,
		opts:     opts,
		logger:   logger.With("component", "conversation"),
		emitter:  events.NewEmitter(logger),
		seen:     dedupe.New(opts.DedupeTTL, opts.DedupeSize),
	}
	s.poller = poller.New(opts.PollInterval, func() {
		s.emitter.Emit(events.PollRefreshEvent())
	})
	s.opts.PollInterval = s.poller.Interval()
	s.state.Store(events.StateDisconnected)
	return s
}

// On registers a listener for kind.
func (s *Service) On(kind events.Kind, fn events.Listener) events.ListenerID {
	return s.emitter.On(kind, fn)
}

// Off removes a listener.
func (s *Service) Off(kind events.Kind, id events.ListenerID) {
	s.emitter.Off(kind, id)
}

// State returns the current connection state.
func (s *Service) State() events.ConnState {
	return s.state.Load().(events.ConnState)
}

// IsPolling reports whether the fallback poller is running.
func (s *Service) IsPolling() bool {
	return s.poller.Active()
}

// SetupRealtimeSubscriptions subscribes to the current user's notification
// topic, replacing any existing subscription. It fails with auth.ErrNoSession
// (leaving the service untouched) when nobody is signed in. A transport that
// refuses the subscription outright is handled like a channel error: the
// service falls back to polling and the error is returned.
//
// ctx bounds the setup call only. The subscription lives until the next
// setup or Cleanup.
func (s *Service) SetupRealtimeSubscriptions(ctx context.Context) error {
	sess, err := s.sessions.Session(ctx)
	if err != nil {
		s.logger.Warn("cannot subscribe without a session", "error", err)
		return fmt.Errorf("setting up realtime: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	old, oldCancel := s.sub, s.cancelSub
	s.sub = nil
	s.cancelSub = cancel
	s.gen++
	gen := s.gen
	s.userID = sess.UserID
	s.state.Store(events.StateConnecting)
	s.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	if old != nil {
		_ = old.Close()
	}

	s.emitter.Emit(events.StatusEvent(events.StateConnecting, "Connecting to live updates", false))

	if s.channel == nil {
		s.logger.Info("realtime disabled, polling only", "interval", s.opts.PollInterval)
		s.handleStatus(gen, realtime.StatusClosed, nil)
		return nil
	}

	topic := realtime.Topic(sess.UserID)
	sub, err := s.channel.Subscribe(subCtx, topic, realtime.Handlers{
		OnStatus:    func(st realtime.Status, err error) { s.handleStatus(gen, st, err) },
		OnBroadcast: func(msg envelope.NewMessage) { s.handleBroadcast(gen, msg) },
	})
	if err != nil {
		s.handleStatus(gen, realtime.StatusChannelError, err)
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// torn down or replaced while subscribing
		s.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	s.logger.Debug("subscribing", "topic", topic)
	return nil
}

func (s *Service) handleStatus(gen uint64, st realtime.Status, cause error) {
	every := s.opts.PollInterval.String()

	var ev events.Event
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("ignoring status from stale subscription", "status", st)
		return
	}
	switch st {
	case realtime.StatusSubscribed:
		s.state.Store(events.StateConnected)
		s.poller.Stop()
		ev = events.StatusEvent(events.StateConnected, "Live updates connected", false)
	case realtime.StatusChannelError:
		s.state.Store(events.StateError)
		s.poller.Start()
		ev = events.StatusEvent(events.StateError, "Live updates unavailable, refreshing every "+every, true)
	case realtime.StatusTimedOut:
		s.state.Store(events.StateError)
		s.poller.Start()
		ev = events.StatusEvent(events.StateError, "Live updates timed out, refreshing every "+every, true)
	case realtime.StatusClosed:
		s.state.Store(events.StateDisconnected)
		s.poller.Start()
		ev = events.StatusEvent(events.StateDisconnected, "Live updates disconnected, refreshing every "+every, false)
	default:
		s.mu.Unlock()
		s.logger.Warn("unknown channel status", "status", st)
		return
	}
	s.mu.Unlock()

	if cause != nil {
		s.logger.Warn("realtime status changed", "status", st, "error", cause)
	} else {
		s.logger.Info("realtime status changed", "status", st)
	}
	s.emitter.Emit(ev)
}

func (s *Service) handleBroadcast(gen uint64, msg envelope.NewMessage) {
	s.mu.Lock()
	current, userID := gen == s.gen, s.userID
	s.mu.Unlock()
	if !current {
		return
	}

	if msg.ForUser != "" && msg.ForUser != userID {
		s.logger.Warn("dropping broadcast addressed to another user", "conversation_id", msg.ConversationID)
		return
	}

	var m *inbox.Message
	if msg.Message != nil {
		if s.seen.Seen(msg.Message.ID) {
			s.logger.Debug("dropping duplicate broadcast", "message_id", msg.Message.ID)
			return
		}
		mapped := inbox.ToMessage(*msg.Message)
		m = &mapped
	}

	s.emitter.Emit(events.MessageEvent(msg.ConversationID, m))
}

// LoadConversations returns the current user's conversations, most recent
// first. Any failure yields an empty slice.
func (s *Service) LoadConversations(ctx context.Context) []inbox.Conversation {
	sess, err := s.sessions.Session(ctx)
	if err != nil {
		s.logger.Warn("loading conversations without a session", "error", err)
		return []inbox.Conversation{}
	}

	rows, err := s.backend.ListConversations(ctx, sess, s.opts.ConversationLimit)
	if err != nil {
		s.logger.Error("loading conversations failed", "error", err)
		return []inbox.Conversation{}
	}
	return inbox.ToConversations(rows, sess.UserID)
}

// LoadMessages returns the newest messages of a conversation, oldest first.
// Any failure yields an empty slice.
func (s *Service) LoadMessages(ctx context.Context, conversationID string) []inbox.Message {
	key, sess, ok := s.resolve(ctx, conversationID)
	if !ok {
		return []inbox.Message{}
	}

	rows, err := s.backend.ListMessages(ctx, sess, key.OtherUserID, s.opts.MessageLimit)
	if err != nil {
		s.logger.Error("loading messages failed", "conversation_id", conversationID, "error", err)
		return []inbox.Message{}
	}
	return inbox.ChronologicalMessages(s.pairOnly(rows, sess.UserID, key.OtherUserID))
}

// LoadOlderMessages returns the page of messages strictly older than before,
// oldest first. Any failure yields an empty slice.
func (s *Service) LoadOlderMessages(ctx context.Context, conversationID string, before inbox.Cursor) []inbox.Message {
	if before.IsZero() {
		s.logger.Warn("loading older messages without a cursor", "conversation_id", conversationID)
		return []inbox.Message{}
	}
	key, sess, ok := s.resolve(ctx, conversationID)
	if !ok {
		return []inbox.Message{}
	}

	rows, err := s.backend.ListMessagesBefore(ctx, sess, key.OtherUserID, before, s.opts.OlderLimit)
	if err != nil {
		s.logger.Error("loading older messages failed", "conversation_id", conversationID, "error", err)
		return []inbox.Message{}
	}
	return inbox.ChronologicalMessages(s.pairOnly(rows, sess.UserID, key.OtherUserID))
}

// SendMessage sends trimmed content to the conversation counterpart. It
// returns false without any network call for blank content, a malformed id,
// or a missing session, and false for any delivery failure.
func (s *Service) SendMessage(ctx context.Context, conversationID, content string) bool {
	key, err := inbox.ParseConversationID(conversationID)
	if err != nil {
		s.logger.Warn("rejecting send", "conversation_id", conversationID, "error", err)
		return false
	}
	content = strings.TrimSpace(content)
	if content == "" {
		s.logger.Debug("rejecting empty send", "conversation_id", conversationID)
		return false
	}
	sess, err := s.sessions.Session(ctx)
	if err != nil {
		s.logger.Warn("rejecting send without a session", "error", err)
		return false
	}

	ok, err := s.sender.SendMessage(ctx, sess, inbox.SendRequest{
		ReceiverID: key.OtherUserID,
		ProductID:  key.ProductID,
		Content:    content,
	})
	if err != nil {
		s.logger.Error("send failed", "conversation_id", conversationID, "error", err)
		return false
	}
	return ok
}

// Cleanup tears everything down: the subscription is closed, polling stops,
// a final disconnected status reaches the current listeners, and then all
// listeners are removed. Safe to call any number of times.
func (s *Service) Cleanup() {
	s.mu.Lock()
	sub, cancel := s.sub, s.cancelSub
	s.sub = nil
	s.cancelSub = nil
	s.gen++
	s.userID = ""
	s.state.Store(events.StateDisconnected)
	s.poller.Stop()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		_ = sub.Close()
	}
	s.seen.Reset()

	s.emitter.Emit(events.StatusEvent(events.StateDisconnected, "Disconnected", false))
	s.emitter.Clear()
	s.logger.Debug("cleaned up")
}

func (s *Service) resolve(ctx context.Context, conversationID string) (inbox.ConversationKey, auth.Session, bool) {
	key, err := inbox.ParseConversationID(conversationID)
	if err != nil {
		s.logger.Warn("invalid conversation id", "conversation_id", conversationID, "error", err)
		return inbox.ConversationKey{}, auth.Session{}, false
	}
	sess, err := s.sessions.Session(ctx)
	if err != nil {
		s.logger.Warn("loading messages without a session", "error", err)
		return inbox.ConversationKey{}, auth.Session{}, false
	}
	return key, sess, true
}

// pairOnly drops rows that are not between me and other.
func (s *Service) pairOnly(rows []inbox.MessageRow, me, other string) []inbox.MessageRow {
	out := rows[:0:0]
	for _, r := range rows {
		receiver := ""
		if r.ReceiverID != nil {
			receiver = *r.ReceiverID
		}
		inPair := (r.SenderID == me && (receiver == other || receiver == "")) ||
			(r.SenderID == other && (receiver == me || receiver == ""))
		if !inPair {
			s.logger.Warn("dropping message outside conversation", "message_id", r.ID)
			continue
		}
		out = append(out, r)
	}
	return out
}
