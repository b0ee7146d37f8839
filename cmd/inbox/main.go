// ABOUTME: Entry point for the resale-inbox command line client
// ABOUTME: Lists, follows, and sends marketplace conversations against the configured backend

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"

	"github.com/2389/resale-inbox/internal/auth"
	"github.com/2389/resale-inbox/internal/config"
	"github.com/2389/resale-inbox/internal/conversation"
	"github.com/2389/resale-inbox/internal/events"
	"github.com/2389/resale-inbox/internal/inbox"
	"github.com/2389/resale-inbox/internal/logging"
	"github.com/2389/resale-inbox/internal/realtime"
	"github.com/2389/resale-inbox/internal/store"
	"github.com/2389/resale-inbox/internal/supabase"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                       _            _       _
  _ __ ___  ___  __ _| | ___       (_)_ __ | |__   _____  __
 | '__/ _ \/ __|/ _' | |/ _ \ _____| | '_ \| '_ \ / _ \ \/ /
 | | |  __/\__ \ (_| | |  __/|_____| | | | | |_) | (_) >  <
 |_|  \___||___/\__,_|_|\___|      |_|_| |_|_.__/ \___/_/\_\
`

func usage() {
	fmt.Println("Usage: inbox <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  conversations                         List conversations, most recent first")
	fmt.Println("  messages ID                           Show the latest messages of a conversation")
	fmt.Println("  older ID BEFORE [BEFORE_ID]           Show messages older than an RFC3339 time")
	fmt.Println("  send ID TEXT...                       Send a message")
	fmt.Println("  follow                                Stream live updates until interrupted")
	fmt.Println("  chat ID                               Follow a conversation and send lines from stdin")
	fmt.Println("  seed                                  Populate the local database with demo data")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "conversations":
		err = withApp(ctx, runConversations)
	case "messages":
		err = withApp(ctx, func(ctx context.Context, a *app) error { return runMessages(ctx, a, args) })
	case "older":
		err = withApp(ctx, func(ctx context.Context, a *app) error { return runOlder(ctx, a, args) })
	case "send":
		err = withApp(ctx, func(ctx context.Context, a *app) error { return runSend(ctx, a, args) })
	case "follow":
		err = withApp(ctx, runFollow)
	case "chat":
		err = withApp(ctx, func(ctx context.Context, a *app) error { return runChat(ctx, a, args) })
	case "seed":
		err = runSeed(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to the local defaults when
// none exists.
func loadConfig() (*config.Config, string, error) {
	path := config.DefaultPath()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), "(defaults)", nil
	}
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// app is the wired client for one command invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	svc     *conversation.Service
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

// newApp wires the backend, realtime transport, and session provider
// selected by cfg into a conversation service.
func newApp(cfg *config.Config) (*app, error) {
	logger := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	sessions := newSessionProvider(cfg)

	var (
		backend conversation.Backend
		sender  conversation.Sender
		local   *store.SQLiteStore
	)
	switch cfg.Backend.Driver {
	case config.BackendSQLite:
		st, err := store.NewSQLiteStore(cfg.Backend.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = st.Close() })
		backend, sender, local = st, st, st
	default:
		client := supabase.New(supabase.Options{
			URL:           cfg.Backend.URL,
			AnonKey:       cfg.Backend.AnonKey,
			FunctionsPath: cfg.Backend.FunctionsPath,
			Timeout:       cfg.Backend.RequestTimeout,
		}, logger)
		backend, sender = client, client
	}

	var channel realtime.Channel
	switch cfg.Realtime.Driver {
	case config.RealtimeSupabase:
		channel = realtime.NewSupabaseChannel(realtime.SupabaseOptions{
			URL:               cfg.RealtimeURL(),
			APIKey:            cfg.Backend.AnonKey,
			JoinTimeout:       cfg.Realtime.JoinTimeout,
			HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
			RejoinInterval:    cfg.Realtime.RejoinInterval,
		}, sessions, logger)
	case config.RealtimeRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Realtime.RedisAddr})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		ch := realtime.NewRedisChannel(rdb, realtime.RedisOptions{
			Prefix:              cfg.Realtime.RedisPrefix,
			JoinTimeout:         cfg.Realtime.JoinTimeout,
			RejoinInterval:      cfg.Realtime.RejoinInterval,
			HealthCheckInterval: cfg.Realtime.HeartbeatInterval,
		}, logger)
		if local != nil {
			local.SetPublisher(ch)
		}
		channel = ch
	case config.RealtimeLocal:
		hub := realtime.NewHub(logger)
		a.closers = append(a.closers, hub.Close)
		if local != nil {
			local.SetPublisher(hub)
		}
		channel = hub
	}

	a.svc = conversation.New(conversation.Deps{
		Backend:  backend,
		Sender:   sender,
		Channel:  channel,
		Sessions: sessions,
		Logger:   logger,
	}, conversation.Options{
		PollInterval:      cfg.Inbox.PollInterval,
		ConversationLimit: cfg.Inbox.ConversationLimit,
		MessageLimit:      cfg.Inbox.MessageLimit,
		OlderLimit:        cfg.Inbox.OlderLimit,
		DedupeTTL:         cfg.Inbox.DedupeTTL,
		DedupeSize:        cfg.Inbox.DedupeSize,
	})
	a.closers = append(a.closers, a.svc.Cleanup)
	return a, nil
}

func newSessionProvider(cfg *config.Config) auth.Provider {
	secret := []byte(cfg.Auth.JWTSecret)
	if cfg.Auth.Token != "" {
		return auth.NewStaticProvider(cfg.Auth.Token, secret)
	}
	path := cfg.Auth.TokenFile
	if path == "" {
		path = auth.DefaultTokenPath()
	}
	return auth.NewFileProvider("INBOX_TOKEN", path, secret)
}

func runConversations(ctx context.Context, a *app) error {
	convs := a.svc.LoadConversations(ctx)
	if len(convs) == 0 {
		fmt.Println("no conversations")
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	bold := color.New(color.Bold)
	for _, c := range convs {
		marker := " "
		if c.Unread {
			marker = color.GreenString("●")
		}
		fmt.Printf("%s ", marker)
		bold.Print(c.Name)
		if c.Product != nil {
			cyan.Printf("  [%s]", c.Product.Title)
		}
		if c.IsOrderConversation {
			color.New(color.FgYellow).Print("  order")
		}
		if c.IsOfferConversation {
			color.New(color.FgMagenta).Print("  offer")
		}
		fmt.Println()
		gray.Printf("    %s  %s\n", c.ID, c.LastMessageAt.Local().Format(time.DateTime))
		if c.LastMessage != "" {
			fmt.Printf("    %s\n", c.LastMessage)
		}
	}
	return nil
}

func runMessages(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: inbox messages ID")
	}
	printMessages(a.svc.LoadMessages(ctx, args[0]))
	return nil
}

func runOlder(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: inbox older ID BEFORE [BEFORE_ID]")
	}
	before, err := time.Parse(time.RFC3339Nano, args[1])
	if err != nil {
		return fmt.Errorf("parsing BEFORE: %w", err)
	}
	cursor := inbox.Before(before)
	if len(args) == 3 {
		cursor.ID = args[2]
	}

	msgs := a.svc.LoadOlderMessages(ctx, args[0], cursor)
	printMessages(msgs)
	if len(msgs) > 0 {
		next := inbox.CursorOf(msgs[0])
		color.New(color.FgHiBlack).Printf("next page: inbox older %s %s %s\n",
			args[0], next.CreatedAt.Format(time.RFC3339Nano), next.ID)
	}
	return nil
}

func runSend(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: inbox send ID TEXT...")
	}
	if !a.svc.SendMessage(ctx, args[0], strings.Join(args[1:], " ")) {
		return errors.New("message not sent")
	}
	color.Green("sent")
	return nil
}

// subscribe wires status and poll listeners and starts realtime.
func subscribe(ctx context.Context, a *app, onRefresh func()) error {
	a.svc.On(events.KindConnectionStatus, func(ev events.Event) {
		printStatus(ev.Status)
	})
	a.svc.On(events.KindPollRefresh, func(events.Event) {
		onRefresh()
	})

	if err := a.svc.SetupRealtimeSubscriptions(ctx); err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			return fmt.Errorf("sign in first (set INBOX_TOKEN or auth.token): %w", err)
		}
		// the service already fell back to polling
		a.logger.Warn("realtime unavailable", "error", err)
	}
	return nil
}

func runFollow(ctx context.Context, a *app) error {
	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)

	a.svc.On(events.KindNewMessage, func(ev events.Event) {
		color.New(color.FgGreen).Printf("▶ %s", ev.NewMessage.ConversationID)
		if m := ev.NewMessage.Message; m != nil {
			fmt.Printf("  %s: %s", m.SenderID, m.Content)
		}
		fmt.Println()
	})

	// poll ticks run on the poller goroutine; the reload happens here
	refresh := make(chan struct{}, 1)
	if err := subscribe(ctx, a, func() {
		select {
		case refresh <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh:
			convs := a.svc.LoadConversations(ctx)
			unread := 0
			for _, c := range convs {
				if c.Unread {
					unread++
				}
			}
			color.New(color.FgHiBlack).Printf("refreshed: %d conversations, %d unread\n", len(convs), unread)
		}
	}
}

func runChat(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: inbox chat ID")
	}
	id := args[0]
	if _, err := inbox.ParseConversationID(id); err != nil {
		return err
	}

	shown := map[string]bool{}
	show := func(msgs []inbox.Message) {
		for _, m := range msgs {
			if shown[m.ID] {
				continue
			}
			shown[m.ID] = true
			printMessage(m)
		}
	}

	incoming := make(chan *inbox.Message, 16)
	refresh := make(chan struct{}, 1)
	a.svc.On(events.KindNewMessage, func(ev events.Event) {
		if ev.NewMessage.ConversationID != id {
			return
		}
		select {
		case incoming <- ev.NewMessage.Message:
		default:
			a.logger.Warn("dropping live message, terminal is behind")
		}
	})
	if err := subscribe(ctx, a, func() {
		select {
		case refresh <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}

	show(a.svc.LoadMessages(ctx, id))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !a.svc.SendMessage(ctx, id, line) {
				color.Red("not sent")
			}
		case m := <-incoming:
			if m == nil {
				show(a.svc.LoadMessages(ctx, id))
				continue
			}
			show([]inbox.Message{*m})
		case <-refresh:
			show(a.svc.LoadMessages(ctx, id))
		}
	}
}

func printStatus(st events.ConnectionStatus) {
	c := color.New(color.FgHiBlack)
	switch st.State {
	case events.StateConnected:
		c = color.New(color.FgGreen)
	case events.StateError:
		c = color.New(color.FgRed)
	case events.StateDisconnected:
		c = color.New(color.FgYellow)
	}
	c.Printf("[%s] %s\n", st.State, st.Message)
}

func printMessages(msgs []inbox.Message) {
	if len(msgs) == 0 {
		fmt.Println("no messages")
		return
	}
	for _, m := range msgs {
		printMessage(m)
	}
}

func printMessage(m inbox.Message) {
	name := m.SenderID
	if m.Sender != nil && m.Sender.Name != "" {
		name = m.Sender.Name
	}
	color.New(color.FgHiBlack).Printf("%s ", m.CreatedAt.Local().Format(time.TimeOnly))
	color.New(color.FgCyan).Printf("%s", name)
	fmt.Printf(": %s\n", m.Content)
}
