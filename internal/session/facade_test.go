package session

import (
	"testing"
	"time"

	"limitbook/internal/book"
	"limitbook/internal/fixcodec"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() book.Clock {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func newTestFacade() *Facade {
	b := book.New(fixedClock())
	return New(b, fixedClock(), nil, "AAPL", zerolog.Nop())
}

func newOrderSingle(clOrdID string, side, ordType string, qty int64, price, stopPx string) *fixcodec.Message {
	m := fixcodec.NewMessage()
	m.Set(fixcodec.TagMsgType, fixcodec.MsgNewOrderSingle)
	m.Set(fixcodec.TagClOrdID, clOrdID)
	m.Set(fixcodec.TagSide, side)
	m.SetInt(fixcodec.TagOrderQty, qty)
	m.Set(fixcodec.TagOrdType, ordType)
	if price != "" {
		m.Set(fixcodec.TagPrice, price)
	}
	if stopPx != "" {
		m.Set(fixcodec.TagStopPx, stopPx)
	}
	return m
}

func TestDispatch_NewOrderSingle_Limit_AckIsNew(t *testing.T) {
	f := newTestFacade()

	out := f.Dispatch(newOrderSingle("1", fixcodec.SideSell, fixcodec.OrdTypeLimit, 50, "151.00", ""))
	require.Len(t, out, 1)
	assert.Equal(t, fixcodec.MsgExecutionReport, out[0].MsgType())
	execType, _ := out[0].Get(fixcodec.TagExecType)
	assert.Equal(t, fixcodec.ExecTypeNew, execType)
	leaves, _ := out[0].GetInt(fixcodec.TagLeavesQty)
	assert.EqualValues(t, 50, leaves)
}

func TestDispatch_NewOrderSingle_MarketFillsRestingLimit(t *testing.T) {
	f := newTestFacade()
	f.Dispatch(newOrderSingle("1", fixcodec.SideSell, fixcodec.OrdTypeLimit, 50, "151.00", ""))

	out := f.Dispatch(newOrderSingle("2", fixcodec.SideBuy, fixcodec.OrdTypeMarket, 30, "", ""))
	require.Len(t, out, 2, "aggressor fill report + one passive-fill report for id 1")

	aggressor := out[0]
	execType, _ := aggressor.Get(fixcodec.TagExecType)
	assert.Equal(t, fixcodec.ExecTypeFill, execType)
	cum, _ := aggressor.GetInt(fixcodec.TagCumQty)
	assert.EqualValues(t, 30, cum)
	avgPx, _ := aggressor.Get(fixcodec.TagAvgPx)
	assert.Equal(t, "151.00", avgPx)

	passive := out[1]
	clOrdID, _ := passive.Get(fixcodec.TagClOrdID)
	assert.Equal(t, "1", clOrdID)
	passiveExecType, _ := passive.Get(fixcodec.TagExecType)
	assert.Equal(t, fixcodec.ExecTypePartialFill, passiveExecType)
}

func TestDispatch_NewOrderSingle_MissingClOrdIDRejects(t *testing.T) {
	f := newTestFacade()
	m := fixcodec.NewMessage()
	m.Set(fixcodec.TagMsgType, fixcodec.MsgNewOrderSingle)

	out := f.Dispatch(m)
	require.Len(t, out, 1)
	assert.Equal(t, fixcodec.MsgReject, out[0].MsgType())
}

// S4 — cancel of a non-existent order rejects.
func TestDispatch_CancelRequest_NotFoundRejects(t *testing.T) {
	f := newTestFacade()

	m := fixcodec.NewMessage()
	m.Set(fixcodec.TagMsgType, fixcodec.MsgOrderCancelRequest)
	m.Set(fixcodec.TagOrigClOrdID, "999")

	out := f.Dispatch(m)
	require.Len(t, out, 1)
	assert.Equal(t, fixcodec.MsgReject, out[0].MsgType())
	text, _ := out[0].Get(fixcodec.TagText)
	assert.Contains(t, text, "cancel failed")
}

func TestDispatch_CancelRequest_Success(t *testing.T) {
	f := newTestFacade()
	f.Dispatch(newOrderSingle("1", fixcodec.SideBuy, fixcodec.OrdTypeLimit, 100, "150.00", ""))

	m := fixcodec.NewMessage()
	m.Set(fixcodec.TagMsgType, fixcodec.MsgOrderCancelRequest)
	m.Set(fixcodec.TagOrigClOrdID, "1")

	out := f.Dispatch(m)
	require.Len(t, out, 1)
	execType, _ := out[0].Get(fixcodec.TagExecType)
	assert.Equal(t, fixcodec.ExecTypeCancelled, execType)
}

func TestDispatch_CancelReplace_ReportsReplaced(t *testing.T) {
	f := newTestFacade()
	f.Dispatch(newOrderSingle("1", fixcodec.SideBuy, fixcodec.OrdTypeLimit, 100, "150.00", ""))

	m := fixcodec.NewMessage()
	m.Set(fixcodec.TagMsgType, fixcodec.MsgOrderCancelReplace)
	m.Set(fixcodec.TagOrigClOrdID, "1")
	m.SetInt(fixcodec.TagOrderQty, 200)
	m.Set(fixcodec.TagPrice, "151.00")

	out := f.Dispatch(m)
	require.Len(t, out, 1)
	execType, _ := out[0].Get(fixcodec.TagExecType)
	assert.Equal(t, fixcodec.ExecTypeReplaced, execType)
	leaves, _ := out[0].GetInt(fixcodec.TagLeavesQty)
	assert.EqualValues(t, 200, leaves)
}

func TestDispatch_UnsupportedMsgTypeRejects(t *testing.T) {
	f := newTestFacade()
	m := fixcodec.NewMessage()
	m.Set(fixcodec.TagMsgType, "Z")

	out := f.Dispatch(m)
	require.Len(t, out, 1)
	assert.Equal(t, fixcodec.MsgReject, out[0].MsgType())
}

// Invariant 9: outbound MsgSeqNum strictly increases across calls.
func TestDispatch_SequenceMonotonicity(t *testing.T) {
	f := newTestFacade()

	var seqs []int64
	collect := func(msgs []*fixcodec.Message) {
		for _, m := range msgs {
			n, err := m.GetInt(fixcodec.TagMsgSeqNum)
			require.NoError(t, err)
			seqs = append(seqs, n)
		}
	}

	collect(f.Dispatch(newOrderSingle("1", fixcodec.SideBuy, fixcodec.OrdTypeLimit, 100, "150.00", "")))
	collect(f.Dispatch(newOrderSingle("2", fixcodec.SideSell, fixcodec.OrdTypeLimit, 100, "150.00", "")))

	m := fixcodec.NewMessage()
	m.Set(fixcodec.TagMsgType, fixcodec.MsgOrderCancelRequest)
	m.Set(fixcodec.TagOrigClOrdID, "12345")
	collect(f.Dispatch(m))

	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

type stubReporter struct {
	trades []Trade
}

func (s *stubReporter) ReportTrade(t Trade) {
	s.trades = append(s.trades, t)
}

func TestDispatch_ReportsTradesToReporter(t *testing.T) {
	b := book.New(fixedClock())
	reporter := &stubReporter{}
	f := New(b, fixedClock(), reporter, "AAPL", zerolog.Nop())

	f.Dispatch(newOrderSingle("1", fixcodec.SideSell, fixcodec.OrdTypeLimit, 50, "151.00", ""))
	f.Dispatch(newOrderSingle("2", fixcodec.SideBuy, fixcodec.OrdTypeMarket, 30, "", ""))

	require.Len(t, reporter.trades, 1)
	assert.EqualValues(t, 30, reporter.trades[0].Qty)
	assert.EqualValues(t, 151, reporter.trades[0].Price)
	assert.EqualValues(t, 2, reporter.trades[0].BuyOrderID)
	assert.EqualValues(t, 1, reporter.trades[0].SellOrderID)
}

// A nil message panics inside Message.Get; Dispatch must recover it rather
// than letting it propagate to the caller (the owning connection goroutine
// in internal/transport).
func TestDispatch_RecoversPanicAsReject(t *testing.T) {
	f := newTestFacade()

	var out []*fixcodec.Message
	assert.NotPanics(t, func() {
		out = f.Dispatch(nil)
	})

	require.Len(t, out, 1)
	assert.Equal(t, fixcodec.MsgReject, out[0].MsgType())
	text, _ := out[0].Get(fixcodec.TagText)
	assert.Equal(t, "internal error", text)
}
