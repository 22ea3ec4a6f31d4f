// Package session implements the stateless-per-call dispatcher that
// translates decoded FIX-style requests into book.Book operations and book
// outcomes into execution report / reject messages (spec §4.6).
package session

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"limitbook/internal/book"
	"limitbook/internal/fixcodec"

	"github.com/rs/zerolog"
)

// Trade is one match, reported to an optional Reporter after dispatch.
// It is purely observational — the book never reads it back, so nothing
// here participates in book recovery (see internal/tape).
type Trade struct {
	BuyOrderID  uint64
	SellOrderID uint64
	Price       book.Price
	Qty         book.Qty
	Timestamp   time.Time
}

// Reporter receives a callback for every trade dispatch produces. Wired by
// internal/tape.Writer in cmd/server; nil is a valid no-op default.
type Reporter interface {
	ReportTrade(Trade)
}

// Facade is the session-layer dispatcher. One Facade owns one Book and one
// monotonically increasing outbound MsgSeqNum counter; it has no other
// mutable state, matching the "stateless dispatcher" framing in the spec.
type Facade struct {
	book     *book.Book
	clock    book.Clock
	reporter Reporter
	symbol   string

	seq    uint64
	logger zerolog.Logger
}

// New creates a Facade. clock defaults to time.Now, reporter may be nil.
func New(b *book.Book, clock book.Clock, reporter Reporter, symbol string, logger zerolog.Logger) *Facade {
	if clock == nil {
		clock = time.Now
	}
	if reporter == nil {
		reporter = noopReporter{}
	}
	return &Facade{book: b, clock: clock, reporter: reporter, symbol: symbol, logger: logger}
}

type noopReporter struct{}

func (noopReporter) ReportTrade(Trade) {}

// nextSeq returns the next outbound sequence number. Safe to call even if a
// Facade is (unusually) shared across goroutines, though the matching core
// itself assumes a single serializer (spec §5).
func (f *Facade) nextSeq() uint64 {
	return atomic.AddUint64(&f.seq, 1)
}

// Dispatch handles one decoded inbound message and returns the ordered list of
// outbound messages it produces: acknowledgement(s) for the aggressor and
// any passive fills, then triggered-order reports in cascade order (spec
// §5's ordering guarantee).
//
// A panic anywhere below Dispatch is recovered here and turned into a
// Reject with Text "internal error" — a last-resort backstop mirroring
// the teacher's sessionHandler, which funnels every dispatch error through
// ReportError rather than letting it reach the connection goroutine.
func (f *Facade) Dispatch(msg *fixcodec.Message) (out []*fixcodec.Message) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Msg("dispatch: recovered panic")
			out = []*fixcodec.Message{f.reject("", "internal error")}
		}
	}()

	switch msg.MsgType() {
	case fixcodec.MsgNewOrderSingle:
		return f.handleNewOrderSingle(msg)
	case fixcodec.MsgOrderCancelRequest:
		return f.handleCancelRequest(msg)
	case fixcodec.MsgOrderCancelReplace:
		return f.handleCancelReplace(msg)
	default:
		return []*fixcodec.Message{f.reject("", fmt.Sprintf("Unsupported message type %q", msg.MsgType()))}
	}
}

func (f *Facade) handleNewOrderSingle(msg *fixcodec.Message) []*fixcodec.Message {
	clOrdID, _ := msg.Get(fixcodec.TagClOrdID)
	if clOrdID == "" {
		return []*fixcodec.Message{f.reject("", "ClOrdID is required")}
	}
	id, err := strconv.ParseUint(clOrdID, 10, 64)
	if err != nil {
		return []*fixcodec.Message{f.reject(clOrdID, "ClOrdID must be numeric")}
	}

	qty, err := msg.GetInt(fixcodec.TagOrderQty)
	if err != nil || qty <= 0 {
		return []*fixcodec.Message{f.reject(clOrdID, "OrderQty must be positive")}
	}

	side, err := parseSide(msg)
	if err != nil {
		return []*fixcodec.Message{f.reject(clOrdID, err.Error())}
	}

	ordType, _ := msg.Get(fixcodec.TagOrdType)

	var res *book.Result
	switch ordType {
	case fixcodec.OrdTypeMarket:
		res, err = f.book.MarketOrder(id, side, book.Qty(qty))
	case fixcodec.OrdTypeLimit:
		price, perr := requireTicks(msg, fixcodec.TagPrice)
		if perr != nil {
			return []*fixcodec.Message{f.reject(clOrdID, perr.Error())}
		}
		res, err = f.book.AddLimitOrder(id, side, book.Qty(qty), price)
	case fixcodec.OrdTypeStop:
		stopPx, perr := requireTicks(msg, fixcodec.TagStopPx)
		if perr != nil {
			return []*fixcodec.Message{f.reject(clOrdID, perr.Error())}
		}
		res, err = f.book.AddStopOrder(id, side, book.Qty(qty), stopPx)
	case fixcodec.OrdTypeStopLimit:
		price, perr := requireTicks(msg, fixcodec.TagPrice)
		if perr != nil {
			return []*fixcodec.Message{f.reject(clOrdID, perr.Error())}
		}
		stopPx, serr := requireTicks(msg, fixcodec.TagStopPx)
		if serr != nil {
			return []*fixcodec.Message{f.reject(clOrdID, serr.Error())}
		}
		res, err = f.book.AddStopLimitOrder(id, side, book.Qty(qty), price, stopPx)
	default:
		return []*fixcodec.Message{f.reject(clOrdID, fmt.Sprintf("unknown OrdType %q", ordType))}
	}

	if err != nil {
		return []*fixcodec.Message{f.reject(clOrdID, err.Error())}
	}

	out := f.reportResult(res)
	f.logger.Info().Str("clOrdID", clOrdID).Str("ordType", ordType).Msg("new order accepted")
	return out
}

func (f *Facade) handleCancelRequest(msg *fixcodec.Message) []*fixcodec.Message {
	orig, ok := msg.Get(fixcodec.TagOrigClOrdID)
	if !ok || orig == "" {
		return []*fixcodec.Message{f.reject("", "OrigClOrdID is required")}
	}
	id, err := strconv.ParseUint(orig, 10, 64)
	if err != nil {
		return []*fixcodec.Message{f.reject(orig, "OrigClOrdID must be numeric")}
	}

	// Cross-class cancellation: try limit, then stop, then stop-limit,
	// mirroring the teacher facade's fallback-probing order (spec §9).
	side, found, err := f.book.CancelAnyClass(id)
	if err != nil {
		return []*fixcodec.Message{f.reject(orig, err.Error())}
	}
	if !found {
		f.logger.Warn().Str("origClOrdID", orig).Msg("cancel failed: order not found")
		return []*fixcodec.Message{f.reject(orig, "cancel failed: order not found")}
	}

	m := f.newReport(id, side, fixcodec.ExecTypeCancelled, 0, 0, 0)
	return []*fixcodec.Message{m}
}

func (f *Facade) handleCancelReplace(msg *fixcodec.Message) []*fixcodec.Message {
	orig, ok := msg.Get(fixcodec.TagOrigClOrdID)
	if !ok || orig == "" {
		return []*fixcodec.Message{f.reject("", "OrigClOrdID is required")}
	}
	id, err := strconv.ParseUint(orig, 10, 64)
	if err != nil {
		return []*fixcodec.Message{f.reject(orig, "OrigClOrdID must be numeric")}
	}

	qty, err := msg.GetInt(fixcodec.TagOrderQty)
	if err != nil || qty <= 0 {
		return []*fixcodec.Message{f.reject(orig, "OrderQty must be positive")}
	}
	price, err := requireTicks(msg, fixcodec.TagPrice)
	if err != nil {
		return []*fixcodec.Message{f.reject(orig, err.Error())}
	}

	res, err := f.book.ModifyLimitOrder(id, book.Qty(qty), price)
	if err != nil {
		return []*fixcodec.Message{f.reject(orig, err.Error())}
	}

	out := f.reportResult(res)
	// The primary report for a successful replace uses ExecType Replaced,
	// not whatever reportResult inferred from fill state.
	if len(out) > 0 {
		out[0].Set(fixcodec.TagExecType, fixcodec.ExecTypeReplaced)
		out[0].Set(fixcodec.TagOrdStatus, fixcodec.ExecTypeReplaced)
	}
	return out
}

// reportResult flattens one book.Result into the ordered report sequence:
// the primary order's own report, then a report per passive (maker) fill,
// then the same treatment recursively for every triggered stop cascade
// result, in cascade order.
func (f *Facade) reportResult(res *book.Result) []*fixcodec.Message {
	var out []*fixcodec.Message

	execType := classifyExecType(res)
	out = append(out, f.newReport(res.OrderID, res.Side, execType, res.LeavesQty, res.CumQty, res.AvgPrice))

	for _, pf := range res.PassiveFills {
		side := book.Sell
		if res.Side == book.Sell {
			side = book.Buy
		}
		pfExecType := fixcodec.ExecTypeFill
		if pf.LeavesQty > 0 {
			pfExecType = fixcodec.ExecTypePartialFill
		}
		out = append(out, f.newReport(pf.OrderID, side, pfExecType, pf.LeavesQty, pf.CumQty, pf.Price))
		f.reporter.ReportTrade(tradeFromFill(res, pf))
	}

	for _, triggered := range res.Triggered {
		out = append(out, f.reportResult(triggered)...)
	}

	return out
}

func tradeFromFill(res *book.Result, pf book.PassiveFill) Trade {
	t := Trade{Price: pf.Price, Qty: pf.Qty, Timestamp: time.Now()}
	if res.Side == book.Buy {
		t.BuyOrderID = res.OrderID
		t.SellOrderID = pf.OrderID
	} else {
		t.SellOrderID = res.OrderID
		t.BuyOrderID = pf.OrderID
	}
	return t
}

func classifyExecType(res *book.Result) string {
	switch {
	case res.Resting && res.CumQty == 0:
		return fixcodec.ExecTypeNew
	case res.Type == book.Market:
		// Market (and triggered Stop-as-market) orders are always reported
		// as a single fill, even with partial or zero CumQty — see spec
		// §4.6's note on market-order residual reporting.
		return fixcodec.ExecTypeFill
	case res.LeavesQty == 0:
		return fixcodec.ExecTypeFill
	default:
		return fixcodec.ExecTypePartialFill
	}
}

func (f *Facade) newReport(id uint64, side book.Side, execType string, leaves, cum book.Qty, avgPx book.Price) *fixcodec.Message {
	m := fixcodec.NewMessage()
	m.Set(fixcodec.TagMsgType, fixcodec.MsgExecutionReport)
	m.Set(fixcodec.TagClOrdID, strconv.FormatUint(id, 10))
	m.Set(fixcodec.TagOrderID, strconv.FormatUint(id, 10))
	m.Set(fixcodec.TagSide, sideTag(side))
	m.Set(fixcodec.TagExecType, execType)
	m.Set(fixcodec.TagOrdStatus, execType)
	m.SetInt(fixcodec.TagLeavesQty, int64(leaves))
	m.SetInt(fixcodec.TagCumQty, int64(cum))
	m.Set(fixcodec.TagAvgPx, fixcodec.FormatTicks(int64(avgPx)))
	if f.symbol != "" {
		m.Set(fixcodec.TagSymbol, f.symbol)
	}
	m.SetInt(fixcodec.TagMsgSeqNum, int64(f.nextSeq()))
	m.Set(fixcodec.TagSendingTime, f.clock().UTC().Format("20060102-15:04:05.000"))
	return m
}

func (f *Facade) reject(clOrdID, text string) *fixcodec.Message {
	m := fixcodec.NewMessage()
	m.Set(fixcodec.TagMsgType, fixcodec.MsgReject)
	m.Set(fixcodec.TagClOrdID, clOrdID)
	m.Set(fixcodec.TagText, text)
	m.SetInt(fixcodec.TagMsgSeqNum, int64(f.nextSeq()))
	m.Set(fixcodec.TagSendingTime, f.clock().UTC().Format("20060102-15:04:05.000"))
	f.logger.Warn().Str("clOrdID", clOrdID).Str("text", text).Msg("rejected")
	return m
}

func parseSide(msg *fixcodec.Message) (book.Side, error) {
	v, ok := msg.Get(fixcodec.TagSide)
	if !ok {
		return 0, fmt.Errorf("Side is required")
	}
	switch v {
	case fixcodec.SideBuy:
		return book.Buy, nil
	case fixcodec.SideSell:
		return book.Sell, nil
	default:
		return 0, fmt.Errorf("unknown Side %q", v)
	}
}

func sideTag(s book.Side) string {
	if s == book.Buy {
		return fixcodec.SideBuy
	}
	return fixcodec.SideSell
}

func requireTicks(msg *fixcodec.Message, tag int) (book.Price, error) {
	v, ok := msg.Get(tag)
	if !ok || v == "" {
		return 0, fmt.Errorf("tag %d is required", tag)
	}
	ticks, err := fixcodec.ParseTicks(v)
	if err != nil {
		return 0, err
	}
	if ticks <= 0 {
		return 0, fmt.Errorf("tag %d must be positive", tag)
	}
	return book.Price(ticks), nil
}
