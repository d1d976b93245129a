package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omochice/chat-client/internal/fakebackend"
)

func main() {
	var (
		addr      string
		secret    string
		accessTTL time.Duration
		debug     bool
	)
	cmd := &cobra.Command{
		Use:          "fake-backend",
		Short:        "In-memory chat backend for local development",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			srv := fakebackend.New(fakebackend.Options{
				Secret:    []byte(secret),
				AccessTTL: accessTTL,
			})
			return serve(srv, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret for access tokens")
	cmd.Flags().DurationVar(&accessTTL, "access-ttl", fakebackend.DefaultAccessTTL, "access token lifetime")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(srv *fakebackend.Server, addr string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(addr)
	}()

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Info().Stringer("signal", sig).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		return err
	}
	log.Info().Msg("fake backend stopped")
	return nil
}
