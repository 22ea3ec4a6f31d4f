package book

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() Clock {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

// S1 — resting limit, then market fills it.
func TestScenario_RestingLimitThenMarketFill(t *testing.T) {
	b := New(fixedClock())

	res1, err := b.AddLimitOrder(1, Sell, 50, 151)
	require.NoError(t, err)
	assert.True(t, res1.Resting)
	assert.EqualValues(t, 50, res1.LeavesQty)
	assert.EqualValues(t, 0, res1.CumQty)

	res2, err := b.MarketOrder(2, Buy, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 30, res2.CumQty)
	assert.EqualValues(t, 151, res2.AvgPrice)
	require.Len(t, res2.PassiveFills, 1)
	assert.EqualValues(t, 1, res2.PassiveFills[0].OrderID)
	assert.EqualValues(t, 20, res2.PassiveFills[0].LeavesQty)

	assert.EqualValues(t, 151, b.GetBestAskPrice())
	assert.EqualValues(t, 0, b.GetBestBidPrice())

	o := b.limitIdx[1]
	require.NotNil(t, o)
	assert.EqualValues(t, 20, o.Shares)
}

// S2 — price-time priority: earlier order at the same price fills first.
func TestScenario_PriceTimePriority(t *testing.T) {
	b := New(fixedClock())

	_, err := b.AddLimitOrder(1, Buy, 100, 150)
	require.NoError(t, err)
	_, err = b.AddLimitOrder(2, Buy, 100, 150)
	require.NoError(t, err)

	res, err := b.AddLimitOrder(3, Sell, 150, 150)
	require.NoError(t, err)

	require.Len(t, res.PassiveFills, 2)
	assert.EqualValues(t, 1, res.PassiveFills[0].OrderID)
	assert.EqualValues(t, 100, res.PassiveFills[0].Qty)
	assert.EqualValues(t, 2, res.PassiveFills[1].OrderID)
	assert.EqualValues(t, 50, res.PassiveFills[1].Qty)

	_, stillLive := b.limitIdx[1]
	assert.False(t, stillLive, "id 1 should be fully filled and removed")

	o2 := b.limitIdx[2]
	require.NotNil(t, o2)
	assert.EqualValues(t, 50, o2.Shares)

	assert.EqualValues(t, 150, b.GetBestBidPrice())
}

// S3 — stop-sell does not trigger when lastTradePrice stays above its
// trigger, but does trigger (and discards its unfilled residual) once the
// trade price crosses it.
func TestScenario_StopSellDoesNotFireAboveTrigger(t *testing.T) {
	b := New(fixedClock())

	_, err := b.AddLimitOrder(1, Buy, 100, 150)
	require.NoError(t, err)
	_, err = b.AddLimitOrder(2, Sell, 100, 151)
	require.NoError(t, err)
	_, err = b.AddStopOrder(3, Sell, 50, 149)
	require.NoError(t, err)

	res4, err := b.AddLimitOrder(4, Sell, 100, 150)
	require.NoError(t, err)

	assert.EqualValues(t, 150, b.LastTradePrice())
	assert.Empty(t, res4.Triggered, "149 >= 150 is false; a sell-stop fires when its trigger is >= lastTradePrice")

	_, stillLive := b.stopIdx[3]
	assert.True(t, stillLive)
}

func TestScenario_StopSellFiresAndDiscardsResidual(t *testing.T) {
	b := New(fixedClock())

	_, err := b.AddLimitOrder(1, Buy, 100, 150)
	require.NoError(t, err)
	_, err = b.AddStopOrder(3, Sell, 50, 150)
	require.NoError(t, err)

	res4, err := b.AddLimitOrder(4, Sell, 100, 150)
	require.NoError(t, err)

	assert.EqualValues(t, 150, b.LastTradePrice())
	require.Len(t, res4.Triggered, 1, "sell-stop at 150 should fire once lastTradePrice reaches 150")

	triggered := res4.Triggered[0]
	assert.EqualValues(t, 3, triggered.OrderID)
	assert.EqualValues(t, 0, triggered.CumQty, "no resting bids left to fill the triggered market sell")

	_, stillLive := b.stopIdx[3]
	assert.False(t, stillLive)
}

// S4 — cancelling a non-existent order surfaces NotFound.
func TestCancel_NonExistentOrder(t *testing.T) {
	b := New(fixedClock())
	err := b.CancelLimitOrder(999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, found, err := b.CancelAnyClass(999)
	require.NoError(t, err)
	assert.False(t, found)
}

// S5 — modify re-queues an order at the tail of its price level, losing
// time priority.
func TestScenario_ModifyLosesTimePriority(t *testing.T) {
	b := New(fixedClock())

	_, err := b.AddLimitOrder(1, Buy, 100, 150)
	require.NoError(t, err)
	_, err = b.AddLimitOrder(2, Buy, 100, 150)
	require.NoError(t, err)

	_, err = b.ModifyLimitOrder(1, 100, 150)
	require.NoError(t, err)

	res, err := b.AddLimitOrder(3, Sell, 100, 150)
	require.NoError(t, err)

	require.Len(t, res.PassiveFills, 1)
	assert.EqualValues(t, 2, res.PassiveFills[0].OrderID, "id 2 should fill first: id 1 lost priority on modify")
}

func TestMarketOrder_DiscardsUnfilledResidual(t *testing.T) {
	b := New(fixedClock())
	res, err := b.MarketOrder(1, Buy, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.CumQty)
	assert.EqualValues(t, 0, res.LeavesQty)
	assert.False(t, res.Resting)
}

func TestAddLimitOrder_RejectsDuplicateID(t *testing.T) {
	b := New(fixedClock())
	_, err := b.AddLimitOrder(1, Buy, 100, 150)
	require.NoError(t, err)

	_, err = b.AddLimitOrder(1, Sell, 10, 150)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestAddLimitOrder_RejectsInvalidRequest(t *testing.T) {
	b := New(fixedClock())
	_, err := b.AddLimitOrder(1, Buy, 0, 150)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = b.AddLimitOrder(2, Buy, 100, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// Invariant 1: never a crossed book at rest.
func TestInvariant_NeverCrossedAtRest(t *testing.T) {
	b := New(fixedClock())
	_, _ = b.AddLimitOrder(1, Buy, 100, 150)
	_, _ = b.AddLimitOrder(2, Sell, 100, 152)
	assertNotCrossed(t, b)

	_, _ = b.AddLimitOrder(3, Buy, 50, 152)
	assertNotCrossed(t, b)
	b.AssertInvariants()
}

func assertNotCrossed(t *testing.T, b *Book) {
	t.Helper()
	bid, ask := b.GetBestBidPrice(), b.GetBestAskPrice()
	if bid != 0 && ask != 0 {
		assert.Less(t, int64(bid), int64(ask))
	}
}

// Invariant 2: a Limit's TotalVolume always equals the sum of its queued
// orders' residual shares.
func TestInvariant_VolumeConservation(t *testing.T) {
	b := New(fixedClock())
	_, _ = b.AddLimitOrder(1, Buy, 100, 150)
	_, _ = b.AddLimitOrder(2, Buy, 50, 150)
	_, _ = b.AddLimitOrder(3, Sell, 70, 150)

	lvl, ok := b.bids.Get(&Limit{Price: 150})
	require.True(t, ok)

	var sum Qty
	for _, o := range lvl.Orders() {
		sum += o.Shares
	}
	assert.Equal(t, sum, lvl.TotalVolume)
	b.AssertInvariants()
}

// Invariant 5: an id is in a class's index iff an order with that id is
// queued in that class's ladder.
func TestInvariant_IndexConsistency(t *testing.T) {
	b := New(fixedClock())
	_, _ = b.AddLimitOrder(1, Buy, 100, 150)

	o, ok := b.limitIdx[1]
	require.True(t, ok)
	assert.Same(t, o, o.level.front())

	require.NoError(t, b.CancelLimitOrder(1))
	_, ok = b.limitIdx[1]
	assert.False(t, ok)
	b.AssertInvariants()
}

// Invariant 6: after any request, no buy-stop trigger is <= lastTradePrice
// and no sell-stop trigger is >= lastTradePrice (cascade fixpoint).
func TestInvariant_StopCascadeFixpoint(t *testing.T) {
	b := New(fixedClock())
	_, _ = b.AddLimitOrder(1, Buy, 1000, 150)
	_, _ = b.AddStopOrder(2, Sell, 10, 145)
	_, _ = b.AddStopOrder(3, Sell, 10, 140)

	_, err := b.AddLimitOrder(4, Sell, 1000, 140)
	require.NoError(t, err)

	if lvl, ok := b.sellStops.Min(); ok {
		assert.Less(t, int64(lvl.Price), int64(b.LastTradePrice()))
	}
	b.AssertInvariants()
}

func TestGetRandomOrder_EmptyClassReturnsNil(t *testing.T) {
	b := New(fixedClock())
	assert.Nil(t, b.GetRandomOrder(LimitClass, nil))
}
