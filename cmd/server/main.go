// Command server runs the matching engine behind a TCP listener speaking
// the tag=value wire facade, wiring internal/book, internal/session, and
// internal/transport together. Adapted from the teacher's cmd/main.go
// bootstrap: flag-parsed config, zerolog setup, SIGINT/SIGTERM shutdown via
// a context and a single Run call.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"limitbook/internal/book"
	"limitbook/internal/session"
	"limitbook/internal/tape"
	"limitbook/internal/transport"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:9001", "address to listen on")
	symbol := flag.String("symbol", "SYM", "symbol this book trades")
	workers := flag.Int("workers", 16, "bounded worker pool size for connection handling")
	tapeDSN := flag.String("tape-dsn", "", "optional Postgres connection string for the trade tape sink; empty disables it")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var reporter session.Reporter
	if *tapeDSN != "" {
		w, err := tape.Open(*tapeDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to open trade tape")
		}
		defer w.Close()
		reporter = w
	}

	b := book.New(nil)
	facade := session.New(b, nil, reporter, *symbol, log.Logger)
	srv := transport.New(*addr, facade, *workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", *addr).Str("symbol", *symbol).Msg("starting matching engine")
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
