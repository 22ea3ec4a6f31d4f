// Command replay drives a book.Book directly from a replay file, one
// operation per line, using the grammar from the external-interface spec.
// It speaks the programmatic API, not the wire protocol — useful for
// scripted scenarios and manual exploration. Adapted from the teacher's
// cmd/client flag-based CLI.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"limitbook/internal/book"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("file", "", "path to a replay file (required)")
	verbose := flag.Bool("v", false, "log every accepted operation's result")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *path == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatal().Err(err).Str("file", *path).Msg("unable to open replay file")
	}
	defer f.Close()

	b := book.New(nil)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := applyLine(b, line, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", lineNo, err)
			os.Exit(1)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatal().Err(err).Msg("error reading replay file")
	}

	fmt.Printf("replay complete: %d lines, bestBid=%d bestAsk=%d last=%d\n",
		lineNo, b.GetBestBidPrice(), b.GetBestAskPrice(), b.LastTradePrice())
}

// applyLine parses and executes one replay line against b. Side tokens are
// "1" for buy and "0" for sell (the wire's Side tag uses "2" for sell).
func applyLine(b *book.Book, line string, verbose bool) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	op := fields[0]
	args := fields[1:]

	switch op {
	case "Market":
		id, side, shares, err := parseIDSideQty(args)
		if err != nil {
			return err
		}
		res, err := b.MarketOrder(id, side, shares)
		return report(op, res, err, verbose)

	case "AddLimit", "AddMarketLimit":
		if len(args) != 4 {
			return fmt.Errorf("%s: expected 4 args, got %d", op, len(args))
		}
		id, side, shares, err := parseIDSideQty(args[:3])
		if err != nil {
			return err
		}
		price, err := parsePrice(args[3])
		if err != nil {
			return err
		}
		res, err := b.AddLimitOrder(id, side, shares, price)
		return report(op, res, err, verbose)

	case "CancelLimit":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		return b.CancelLimitOrder(id)

	case "ModifyLimit":
		if len(args) != 3 {
			return fmt.Errorf("ModifyLimit: expected 3 args, got %d", len(args))
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
		shares, err := parseQty(args[1])
		if err != nil {
			return err
		}
		price, err := parsePrice(args[2])
		if err != nil {
			return err
		}
		res, err := b.ModifyLimitOrder(id, shares, price)
		return report(op, res, err, verbose)

	case "AddStop":
		if len(args) != 4 {
			return fmt.Errorf("AddStop: expected 4 args, got %d", len(args))
		}
		id, side, shares, err := parseIDSideQty(args[:3])
		if err != nil {
			return err
		}
		stopPx, err := parsePrice(args[3])
		if err != nil {
			return err
		}
		res, err := b.AddStopOrder(id, side, shares, stopPx)
		return report(op, res, err, verbose)

	case "CancelStop":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		return b.CancelStopOrder(id)

	case "ModifyStop":
		if len(args) != 3 {
			return fmt.Errorf("ModifyStop: expected 3 args, got %d", len(args))
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
		shares, err := parseQty(args[1])
		if err != nil {
			return err
		}
		stopPx, err := parsePrice(args[2])
		if err != nil {
			return err
		}
		res, err := b.ModifyStopOrder(id, shares, stopPx)
		return report(op, res, err, verbose)

	case "AddStopLimit":
		if len(args) != 5 {
			return fmt.Errorf("AddStopLimit: expected 5 args, got %d", len(args))
		}
		id, side, shares, err := parseIDSideQty(args[:3])
		if err != nil {
			return err
		}
		limitPx, err := parsePrice(args[3])
		if err != nil {
			return err
		}
		stopPx, err := parsePrice(args[4])
		if err != nil {
			return err
		}
		res, err := b.AddStopLimitOrder(id, side, shares, limitPx, stopPx)
		return report(op, res, err, verbose)

	case "CancelStopLimit":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		return b.CancelStopLimitOrder(id)

	case "ModifyStopLimit":
		if len(args) != 4 {
			return fmt.Errorf("ModifyStopLimit: expected 4 args, got %d", len(args))
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
		shares, err := parseQty(args[1])
		if err != nil {
			return err
		}
		limitPx, err := parsePrice(args[2])
		if err != nil {
			return err
		}
		stopPx, err := parsePrice(args[3])
		if err != nil {
			return err
		}
		res, err := b.ModifyStopLimitOrder(id, shares, limitPx, stopPx)
		return report(op, res, err, verbose)

	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}

func report(op string, res *book.Result, err error, verbose bool) error {
	if err != nil {
		return err
	}
	if verbose && res != nil {
		log.Debug().
			Str("op", op).
			Uint64("id", res.OrderID).
			Str("side", res.Side.String()).
			Int64("cumQty", int64(res.CumQty)).
			Int64("leavesQty", int64(res.LeavesQty)).
			Int("triggered", len(res.Triggered)).
			Msg("applied")
	}
	return nil
}

func parseID(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected 1 arg, got %d", len(args))
	}
	return strconv.ParseUint(args[0], 10, 64)
}

func parseIDSideQty(args []string) (uint64, book.Side, book.Qty, error) {
	if len(args) != 3 {
		return 0, 0, 0, fmt.Errorf("expected 3 args, got %d", len(args))
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	side, err := parseSide(args[1])
	if err != nil {
		return 0, 0, 0, err
	}
	shares, err := parseQty(args[2])
	if err != nil {
		return 0, 0, 0, err
	}
	return id, side, shares, nil
}

// parseSide follows the replay grammar's "1" = buy, "0" = sell convention.
func parseSide(tok string) (book.Side, error) {
	switch tok {
	case "1":
		return book.Buy, nil
	case "0":
		return book.Sell, nil
	default:
		return 0, fmt.Errorf("side must be 0 or 1, got %q", tok)
	}
}

func parseQty(tok string) (book.Qty, error) {
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, err
	}
	return book.Qty(v), nil
}

func parsePrice(tok string) (book.Price, error) {
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, err
	}
	return book.Price(v), nil
}
