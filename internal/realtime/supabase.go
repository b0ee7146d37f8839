// ABOUTME: Supabase Realtime transport speaking the Phoenix channel protocol over websocket
// ABOUTME: Handles private topic join, heartbeats, broadcast decoding, and throttled rejoin

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/2389/resale-inbox/internal/auth"
	"github.com/2389/resale-inbox/internal/envelope"
)

// Defaults for SupabaseOptions.
const (
	DefaultJoinTimeout       = 10 * time.Second
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultRejoinInterval    = 5 * time.Second

	readLimit = 1 << 20
)

var (
	errJoinTimeout      = errors.New("join not acknowledged before timeout")
	errHeartbeatTimeout = errors.New("heartbeat not acknowledged before the next one was due")
	errChannelClose = errors.New("channel closed by server")
)

// SupabaseOptions configures a SupabaseChannel.
type SupabaseOptions struct {
	// URL is the websocket endpoint, e.g. wss://<ref>.supabase.co/realtime/v1/websocket.
	URL               string
	APIKey            string
	JoinTimeout       time.Duration
	HeartbeatInterval time.Duration
	RejoinInterval    time.Duration
	HTTPClient        *http.Client
}

// SupabaseChannel subscribes to private broadcast topics on Supabase Realtime.
// The access token is fetched from the session provider on every join, so a
// rejoin picks up a refreshed token.
type SupabaseChannel struct {
	opts     SupabaseOptions
	sessions auth.Provider
	logger   *slog.Logger
}

// NewSupabaseChannel creates a channel. Pass nil logger for default.
func NewSupabaseChannel(opts SupabaseOptions, sessions auth.Provider, logger *slog.Logger) *SupabaseChannel {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.RejoinInterval <= 0 {
		opts.RejoinInterval = DefaultRejoinInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SupabaseChannel{
		opts:     opts,
		sessions: sessions,
		logger:   logger.With("component", "realtime.supabase"),
	}
}

// Subscribe implements Channel.
func (c *SupabaseChannel) Subscribe(ctx context.Context, topic string, h Handlers) (Subscription, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &supabaseSubscription{
		channel:  c,
		endpoint: endpoint,
		topic:    topicPrefix + topic,
		handlers: h,
		limiter:  rate.NewLimiter(rate.Every(c.opts.RejoinInterval), 1),
		ctx:      subCtx,
		cancel:   cancel,
		logger:   c.logger.With("topic", topic),
	}
	go sub.run()
	return sub, nil
}

func (c *SupabaseChannel) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parsing realtime url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("realtime url must be ws:// or wss://, got %q", c.opts.URL)
	}
	q := u.Query()
	q.Set("apikey", c.opts.APIKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type supabaseSubscription struct {
	channel  *SupabaseChannel
	endpoint string
	topic    string
	handlers Handlers
	limiter  *rate.Limiter
	ref      atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// Close implements Subscription.
func (s *supabaseSubscription) Close() error {
	s.cancel()
	return nil
}

func (s *supabaseSubscription) nextRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

// run joins, and after any failure reports it and rejoins at most once per
// rejoin interval until the subscription is closed.
func (s *supabaseSubscription) run() {
	for {
		status, err := s.attempt()
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("realtime channel failed", "status", status, "error", err)
		s.handlers.status(status, err)

		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
		s.logger.Debug("rejoining realtime channel")
	}
}

// attempt runs one connection until it fails, returning the status that
// describes the failure.
func (s *supabaseSubscription) attempt() (Status, error) {
	sess, err := s.channel.sessions.Session(s.ctx)
	if err != nil {
		return StatusChannelError, fmt.Errorf("resolving session: %w", err)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, s.endpoint, &websocket.DialOptions{HTTPClient: s.channel.opts.HTTPClient})
	if err != nil {
		return StatusChannelError, fmt.Errorf("dialing realtime: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	joinRef := s.nextRef()
	join, err := newJoin(s.topic, joinRef, sess.AccessToken)
	if err != nil {
		return StatusChannelError, err
	}
	if err := wsjson.Write(ctx, conn, join); err != nil {
		return StatusClosed, fmt.Errorf("sending join: %w", err)
	}

	frames := make(chan phxMessage)
	readErr := make(chan error, 1)
	go func() {
		for {
			var m phxMessage
			if err := wsjson.Read(ctx, conn, &m); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	joinTimer := time.NewTimer(s.channel.opts.JoinTimeout)
	defer joinTimer.Stop()
	heartbeat := time.NewTicker(s.channel.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	// ref of the heartbeat still waiting for its reply
	pendingHeartbeat := ""

	for {
		select {
		case <-s.ctx.Done():
			s.leave(conn, joinRef)
			return StatusClosed, s.ctx.Err()

		case <-joinTimer.C:
			return StatusTimedOut, errJoinTimeout

		case <-heartbeat.C:
			if pendingHeartbeat != "" {
				return StatusClosed, errHeartbeatTimeout
			}
			ref := s.nextRef()
			if err := wsjson.Write(ctx, conn, newHeartbeat(ref)); err != nil {
				return StatusClosed, fmt.Errorf("sending heartbeat: %w", err)
			}
			pendingHeartbeat = ref

		case err := <-readErr:
			return StatusClosed, fmt.Errorf("reading realtime: %w", err)

		case m := <-frames:
			if m.Topic == phoenixTopic {
				if m.Event == phxReply && m.Ref == pendingHeartbeat {
					pendingHeartbeat = ""
				}
				continue
			}
			if m.Topic != s.topic {
				continue
			}
			done, status, err := s.handleFrame(m, joinRef, joinTimer)
			if done {
				return status, err
			}
		}
	}
}

// handleFrame processes one frame on the subscription topic. It returns
// done=true with the failure status when the connection attempt is over.
func (s *supabaseSubscription) handleFrame(m phxMessage, joinRef string, joinTimer *time.Timer) (bool, Status, error) {
	switch m.Event {
	case phxReply:
		if m.Ref != joinRef {
			return false, 0, nil
		}
		var reply replyPayload
		if err := json.Unmarshal(m.Payload, &reply); err != nil {
			return true, StatusChannelError, fmt.Errorf("decoding join reply: %w", err)
		}
		if reply.Status != "ok" {
			return true, StatusChannelError, fmt.Errorf("join rejected: %s", string(reply.Response))
		}
		joinTimer.Stop()
		s.limiter = rate.NewLimiter(s.limiter.Limit(), 1)
		s.logger.Info("realtime channel subscribed")
		s.handlers.status(StatusSubscribed, nil)

	case phxError:
		return true, StatusChannelError, fmt.Errorf("channel error: %s", string(m.Payload))

	case phxClose:
		return true, StatusClosed, errChannelClose

	case phxSystem:
		var sys systemPayload
		if err := json.Unmarshal(m.Payload, &sys); err == nil && sys.Status == "error" {
			return true, StatusChannelError, fmt.Errorf("channel system error: %s", sys.Message)
		}

	case phxBroadcast:
		s.handleBroadcast(m.Payload)
	}
	return false, 0, nil
}

func (s *supabaseSubscription) handleBroadcast(raw json.RawMessage) {
	var b broadcastPayload
	if err := json.Unmarshal(raw, &b); err != nil {
		s.logger.Warn("dropping malformed broadcast frame", "error", err)
		return
	}
	msg, err := envelope.Decode(b.Event, b.Payload)
	if err != nil {
		s.logger.Warn("dropping broadcast", "event", b.Event, "error", err)
		return
	}
	s.handlers.broadcast(msg)
}

// leave tells the server the topic is no longer wanted and closes cleanly.
func (s *supabaseSubscription) leave(conn *websocket.Conn, joinRef string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = wsjson.Write(ctx, conn, phxMessage{
		Topic:   s.topic,
		Event:   phxLeave,
		Payload: json.RawMessage(`{}`),
		Ref:     s.nextRef(),
		JoinRef: joinRef,
	})
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
