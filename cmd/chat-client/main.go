package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omochice/chat-client/internal/client"
	"github.com/omochice/chat-client/internal/client/ws"
	"github.com/omochice/chat-client/internal/config"
	"github.com/omochice/chat-client/internal/metrics"
	"github.com/omochice/chat-client/pkg/protocol"
)

type options struct {
	envFile      string
	email        string
	password     string
	username     string
	register     bool
	conversation string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:           "chat-client",
		Short:         "Interactive terminal chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.envFile, "env", ".env", "dotenv file with VITE_API_URL and VITE_WS_URL")
	cmd.Flags().StringVar(&opts.email, "email", "", "account email")
	cmd.Flags().StringVar(&opts.password, "password", "", "account password")
	cmd.Flags().StringVar(&opts.username, "username", "", "username used with --register")
	cmd.Flags().BoolVar(&opts.register, "register", false, "create the account before signing in")
	cmd.Flags().StringVar(&opts.conversation, "conversation", "", "conversation to open after sign-in")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("chat client failed")
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return err
	}
	setupLogger(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg)
	}

	var c *client.Client
	loggedOut := make(chan error, 1)
	c = client.New(cfg, client.Options{
		Registerer: reg,
		OnLogout: func(err error) {
			select {
			case loggedOut <- err:
			default:
			}
		},
		OnMessages: func(conversationID string) {
			if conversationID != c.Chat.Active() {
				if m, ok := c.Chat.Preview(conversationID); ok {
					fmt.Printf("*** [%s] %s ***\n", conversationID, m.Content)
				}
			}
		},
		OnPresence: func(userID string, online bool) {
			state := "offline"
			if online {
				state = "online"
			}
			fmt.Printf("*** %s is %s ***\n", userID, state)
		},
		OnFriends: func() {
			fmt.Printf("*** friends: %d, invites: %d ***\n", len(c.Friends.Friends()), len(c.Friends.Invites()))
		},
		OnConnection: func(s ws.State) {
			log.Debug().Stringer("state", s).Msg("realtime connection")
		},
	})
	defer c.Close()

	if opts.register {
		if _, err := c.Session.Register(ctx, opts.username, opts.email, opts.password); err != nil {
			return fmt.Errorf("failed to register: %w", err)
		}
		if err := c.Start(ctx); err != nil {
			return err
		}
	} else if err := c.Login(ctx, opts.email, opts.password); err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}
	log.Info().Str("user_id", c.Session.UserID()).Msg("signed in")

	if opts.conversation != "" {
		if err := c.Open(ctx, opts.conversation); err != nil {
			return err
		}
		printMessages(c.Chat.Messages())
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			log.Error().Err(err).Msg("error reading input")
		}
	}()

	fmt.Println("Type messages, or /open <id>, /with <user>, /react <msg> <type>, /friends, /online <user>, /quit")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-loggedOut:
			return fmt.Errorf("session ended: %w", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, c, line)
			if err != nil {
				log.Error().Err(err).Msg("command failed")
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, c *client.Client, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		m, err := c.Send(ctx, line)
		if err != nil {
			return false, err
		}
		fmt.Printf("[me] %s (%s)\n", m.Content, m.ID)
		return false, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/open":
		if len(fields) != 2 {
			return false, errors.New("usage: /open <conversation-id>")
		}
		if err := c.Open(ctx, fields[1]); err != nil {
			return false, err
		}
		printMessages(c.Chat.Messages())
	case "/with":
		if len(fields) != 2 {
			return false, errors.New("usage: /with <user-id>")
		}
		id, err := c.OpenWith(ctx, fields[1])
		if err != nil {
			return false, err
		}
		fmt.Printf("*** opened %s ***\n", id)
		printMessages(c.Chat.Messages())
	case "/react":
		if len(fields) != 3 {
			return false, errors.New("usage: /react <message-id> <type>")
		}
		return false, c.React(fields[1], protocol.ReactionEmoji{Emoji: fields[2], Type: fields[2]})
	case "/friends":
		for _, f := range c.Friends.Friends() {
			fmt.Printf("  %s %s online=%t\n", f.ID, f.Username, c.Presence.IsOnline(f.ID))
		}
		for _, u := range c.Friends.Invites() {
			fmt.Printf("  invite from %s %s\n", u.ID, u.Username)
		}
	case "/online":
		if len(fields) != 2 {
			return false, errors.New("usage: /online <user-id>")
		}
		c.Presence.Watch(fields[1])
		c.Presence.Poll()
	case "/history":
		printMessages(c.Chat.Messages())
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
	return false, nil
}

func printMessages(msgs []protocol.Message) {
	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s (%s)\n", m.ID, m.SenderID, m.Content, m.Status)
	}
}

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server failed")
	}
}
