// ABOUTME: Redis pub/sub transport for self-hosted deployments
// ABOUTME: Frames carry the broadcast event name so the envelope decoder can validate them

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/2389/resale-inbox/internal/envelope"
)

// DefaultRedisPrefix namespaces topic keys.
const DefaultRedisPrefix = "inbox"

var errPingTimeout = errors.New("redis ping not answered before the next one was due")

// RedisOptions configures a RedisChannel.
type RedisOptions struct {
	Prefix         string
	JoinTimeout    time.Duration
	RejoinInterval time.Duration
	// HealthCheckInterval is how long the subscription may stay silent
	// before it is pinged. An unanswered ping ends the connection.
	HealthCheckInterval time.Duration
}

// redisFrame is the wire shape published on a topic key.
type redisFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RedisChannel implements Channel and Publisher on Redis pub/sub.
type RedisChannel struct {
	client redis.UniversalClient
	opts   RedisOptions
	logger *slog.Logger
}

// NewRedisChannel creates a channel on client. Pass nil logger for default.
func NewRedisChannel(client redis.UniversalClient, opts RedisOptions, logger *slog.Logger) *RedisChannel {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.RejoinInterval <= 0 {
		opts.RejoinInterval = DefaultRejoinInterval
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisChannel{
		client: client,
		opts:   opts,
		logger: logger.With("component", "realtime.redis"),
	}
}

func (c *RedisChannel) key(topic string) string {
	return c.opts.Prefix + ":" + topic
}

// Publish implements Publisher.
func (c *RedisChannel) Publish(ctx context.Context, topic string, msg envelope.NewMessage) error {
	payload, err := envelope.Encode(msg)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(redisFrame{Event: envelope.EventNewMessage, Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if err := c.client.Publish(ctx, c.key(topic), frame).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", c.key(topic), err)
	}
	return nil
}

// Subscribe implements Channel.
func (c *RedisChannel) Subscribe(ctx context.Context, topic string, h Handlers) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{
		channel:  c,
		key:      c.key(topic),
		handlers: h,
		limiter:  rate.NewLimiter(rate.Every(c.opts.RejoinInterval), 1),
		ctx:      subCtx,
		cancel:   cancel,
		logger:   c.logger.With("topic", topic),
	}
	go sub.run()
	return sub, nil
}

type redisSubscription struct {
	channel  *RedisChannel
	key      string
	handlers Handlers
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// Close implements Subscription.
func (s *redisSubscription) Close() error {
	s.cancel()
	return nil
}

func (s *redisSubscription) run() {
	for {
		status, err := s.attempt()
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("redis subscription failed", "status", status, "error", err)
		s.handlers.status(status, err)

		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
	}
}

// attempt runs one subscription until it fails. Receive errors end the
// attempt instead of being retried inside go-redis, so an outage is reported
// and the caller can fall back to polling.
func (s *redisSubscription) attempt() (Status, error) {
	ps := s.channel.client.Subscribe(s.ctx, s.key)
	defer ps.Close()
	// unblocks a pending receive when the subscription is closed
	stop := context.AfterFunc(s.ctx, func() { _ = ps.Close() })
	defer stop()

	if _, err := ps.ReceiveTimeout(s.ctx, s.channel.opts.JoinTimeout); err != nil {
		if s.ctx.Err() != nil {
			return StatusClosed, s.ctx.Err()
		}
		if isTimeout(err) {
			return StatusTimedOut, fmt.Errorf("waiting for subscription: %w", err)
		}
		return StatusChannelError, fmt.Errorf("subscribing to %s: %w", s.key, err)
	}

	s.limiter = rate.NewLimiter(s.limiter.Limit(), 1)
	s.logger.Info("redis subscription confirmed", "key", s.key)
	s.handlers.status(StatusSubscribed, nil)

	pingPending := false
	for {
		msg, err := ps.ReceiveTimeout(s.ctx, s.channel.opts.HealthCheckInterval)
		if s.ctx.Err() != nil {
			return StatusClosed, s.ctx.Err()
		}
		if err != nil {
			if !isTimeout(err) {
				return StatusClosed, fmt.Errorf("receiving from %s: %w", s.key, err)
			}
			if pingPending {
				return StatusClosed, errPingTimeout
			}
			if err := ps.Ping(s.ctx); err != nil {
				return StatusClosed, fmt.Errorf("pinging redis: %w", err)
			}
			pingPending = true
			continue
		}

		// anything received proves the connection is alive
		pingPending = false
		switch m := msg.(type) {
		case *redis.Message:
			s.handleMessage(m.Payload)
		case *redis.Pong:
		case *redis.Subscription:
			if m.Kind == "unsubscribe" {
				return StatusClosed, fmt.Errorf("unsubscribed from %s by server", s.key)
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *redisSubscription) handleMessage(raw string) {
	var frame redisFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		s.logger.Warn("dropping malformed redis frame", "error", err)
		return
	}
	msg, err := envelope.Decode(frame.Event, frame.Payload)
	if err != nil {
		s.logger.Warn("dropping broadcast", "event", frame.Event, "error", err)
		return
	}
	s.handlers.broadcast(msg)
}
