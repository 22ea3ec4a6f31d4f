package book

import (
	"math/rand"
	"time"

	"github.com/tidwall/btree"
)

// ladder is an ordered map from price to the Limit resting there. tidwall's
// BTreeG gives O(1) best-price access via Min() under a side-specific
// comparator and O(log P) insert/delete for arbitrary prices.
type ladder = btree.BTreeG[*Limit]

// OrderClass identifies which id-index a live order belongs to. An id lives
// in exactly one class at a time, per spec.
type OrderClass int

const (
	LimitClass OrderClass = iota
	StopClass
	StopLimitClass
)

// Book is the matching engine for a single symbol: two price ladders, two
// stop ladders, and per-class id indices for O(1) cancel/modify. It is not
// safe for concurrent use — callers must serialize access (see
// internal/transport, which serializes its Dispatch calls with a mutex).
type Book struct {
	bids *ladder
	asks *ladder

	buyStops  *ladder // ascending by trigger price
	sellStops *ladder // descending by trigger price

	limitIdx     map[uint64]*Order
	stopIdx      map[uint64]*Order
	stopLimitIdx map[uint64]*Order

	lastTradePrice Price

	now Clock
}

// New creates an empty book. clock defaults to time.Now when nil.
func New(clock Clock) *Book {
	if clock == nil {
		clock = time.Now
	}
	return &Book{
		bids:         btree.NewBTreeG(func(a, b *Limit) bool { return a.Price > b.Price }),
		asks:         btree.NewBTreeG(func(a, b *Limit) bool { return a.Price < b.Price }),
		buyStops:     btree.NewBTreeG(func(a, b *Limit) bool { return a.Price < b.Price }),
		sellStops:    btree.NewBTreeG(func(a, b *Limit) bool { return a.Price > b.Price }),
		limitIdx:     make(map[uint64]*Order),
		stopIdx:      make(map[uint64]*Order),
		stopLimitIdx: make(map[uint64]*Order),
		now:          clock,
	}
}

// Fill is one match experienced by the aggressor order.
type Fill struct {
	ContraOrderID uint64
	Price         Price
	Qty           Qty
}

// PassiveFill is one match experienced by a resting (maker) order.
type PassiveFill struct {
	OrderID       uint64
	ContraOrderID uint64
	Price         Price
	Qty           Qty
	LeavesQty     Qty
	CumQty        Qty
}

// Result describes the outcome of submitting one order to the book,
// including any orders it triggered out of the stop ladders (in cascade
// order, each carrying its own nested Triggered list).
type Result struct {
	OrderID   uint64
	Side      Side
	Type      OrderType
	LeavesQty Qty
	CumQty    Qty
	AvgPrice  Price
	Resting   bool

	Fills        []Fill
	PassiveFills []PassiveFill
	Triggered    []*Result
}

func (r *Result) recordFill(price Price, qty Qty) {
	r.Fills = append(r.Fills, Fill{Price: price, Qty: qty})
	total := r.AvgPrice * Price(r.CumQty-qty)
	total += price * Price(qty)
	if r.CumQty > 0 {
		r.AvgPrice = total / Price(r.CumQty)
	}
}

// MarketOrder submits a market order. Any residual quantity left after the
// opposite side is exhausted is discarded — market orders never rest.
func (b *Book) MarketOrder(id uint64, side Side, shares Qty) (*Result, error) {
	if shares <= 0 {
		return nil, ErrInvalidRequest
	}
	res := b.submitMarket(id, side, shares)
	res.Triggered = b.runCascade()
	return res, nil
}

// AddLimitOrder submits a limit order, matching it immediately against
// crossing liquidity and resting any residual at its limit price.
func (b *Book) AddLimitOrder(id uint64, side Side, shares Qty, price Price) (*Result, error) {
	if shares <= 0 || price <= 0 {
		return nil, ErrInvalidRequest
	}
	if b.idLive(id) {
		return nil, ErrDuplicateID
	}
	res := b.submitLimit(id, side, shares, price)
	res.Triggered = b.runCascade()
	return res, nil
}

// CancelLimitOrder removes a resting limit order.
func (b *Book) CancelLimitOrder(id uint64) error {
	o, ok := b.limitIdx[id]
	if !ok {
		return ErrNotFound
	}
	b.unrest(o, b.limitIdx, b.ladderFor(o.Side))
	return nil
}

// ModifyLimitOrder is equivalent to cancel followed by inserting a fresh
// order with the same id — time priority is not preserved.
func (b *Book) ModifyLimitOrder(id uint64, shares Qty, price Price) (*Result, error) {
	o, ok := b.limitIdx[id]
	if !ok {
		return nil, ErrNotFound
	}
	if shares <= 0 || price <= 0 {
		return nil, ErrInvalidRequest
	}
	side := o.Side
	b.unrest(o, b.limitIdx, b.ladderFor(side))
	res := b.submitLimit(id, side, shares, price)
	res.Triggered = b.runCascade()
	return res, nil
}

// AddStopOrder submits a dormant stop order. If the book has traded and the
// current last trade price already satisfies its trigger, it fires
// immediately.
func (b *Book) AddStopOrder(id uint64, side Side, shares Qty, stopPrice Price) (*Result, error) {
	if shares <= 0 || stopPrice <= 0 {
		return nil, ErrInvalidRequest
	}
	if b.idLive(id) {
		return nil, ErrDuplicateID
	}
	o := &Order{ID: id, Side: side, Type: Stop, Shares: shares, StopPrice: stopPrice, ExchTime: b.now()}
	b.rest(o, b.stopIdx, b.stopLadderFor(side), stopPrice)
	res := &Result{OrderID: id, Side: side, Type: Stop, LeavesQty: shares, Resting: true}
	res.Triggered = b.runCascade()
	return res, nil
}

// CancelStopOrder removes a dormant stop order.
func (b *Book) CancelStopOrder(id uint64) error {
	o, ok := b.stopIdx[id]
	if !ok {
		return ErrNotFound
	}
	b.unrest(o, b.stopIdx, b.stopLadderFor(o.Side))
	return nil
}

// ModifyStopOrder replaces a dormant stop order's shares/trigger price.
func (b *Book) ModifyStopOrder(id uint64, shares Qty, stopPrice Price) (*Result, error) {
	o, ok := b.stopIdx[id]
	if !ok {
		return nil, ErrNotFound
	}
	if shares <= 0 || stopPrice <= 0 {
		return nil, ErrInvalidRequest
	}
	side := o.Side
	b.unrest(o, b.stopIdx, b.stopLadderFor(side))
	return b.AddStopOrder(id, side, shares, stopPrice)
}

// AddStopLimitOrder submits a dormant stop-limit order: it becomes a limit
// order at limitPrice once stopPrice is crossed.
func (b *Book) AddStopLimitOrder(id uint64, side Side, shares Qty, limitPrice, stopPrice Price) (*Result, error) {
	if shares <= 0 || limitPrice <= 0 || stopPrice <= 0 {
		return nil, ErrInvalidRequest
	}
	if b.idLive(id) {
		return nil, ErrDuplicateID
	}
	o := &Order{ID: id, Side: side, Type: StopLimit, Shares: shares, LimitPrice: limitPrice, StopPrice: stopPrice, ExchTime: b.now()}
	b.rest(o, b.stopLimitIdx, b.stopLadderFor(side), stopPrice)
	res := &Result{OrderID: id, Side: side, Type: StopLimit, LeavesQty: shares, Resting: true}
	res.Triggered = b.runCascade()
	return res, nil
}

// CancelAnyClass tries to cancel id across the limit, stop, and stop-limit
// classes in that order, stopping at the first match. It reports the
// cancelled order's side and whether anything was found — used by the
// session facade's cross-class OrderCancelRequest handling (spec §4.3, §9).
func (b *Book) CancelAnyClass(id uint64) (side Side, found bool, err error) {
	if o, ok := b.limitIdx[id]; ok {
		side = o.Side
		return side, true, b.CancelLimitOrder(id)
	}
	if o, ok := b.stopIdx[id]; ok {
		side = o.Side
		return side, true, b.CancelStopOrder(id)
	}
	if o, ok := b.stopLimitIdx[id]; ok {
		side = o.Side
		return side, true, b.CancelStopLimitOrder(id)
	}
	return 0, false, nil
}

// CancelStopLimitOrder removes a dormant stop-limit order.
func (b *Book) CancelStopLimitOrder(id uint64) error {
	o, ok := b.stopLimitIdx[id]
	if !ok {
		return ErrNotFound
	}
	b.unrest(o, b.stopLimitIdx, b.stopLadderFor(o.Side))
	return nil
}

// ModifyStopLimitOrder replaces a dormant stop-limit order's shares/prices.
func (b *Book) ModifyStopLimitOrder(id uint64, shares Qty, limitPrice, stopPrice Price) (*Result, error) {
	o, ok := b.stopLimitIdx[id]
	if !ok {
		return nil, ErrNotFound
	}
	if shares <= 0 || limitPrice <= 0 || stopPrice <= 0 {
		return nil, ErrInvalidRequest
	}
	side := o.Side
	b.unrest(o, b.stopLimitIdx, b.stopLadderFor(side))
	return b.AddStopLimitOrder(id, side, shares, limitPrice, stopPrice)
}

// GetBestBidPrice returns the highest resting buy price, or 0 if the bid
// side is empty.
func (b *Book) GetBestBidPrice() Price {
	if lvl, ok := b.bids.Min(); ok {
		return lvl.Price
	}
	return 0
}

// GetBestAskPrice returns the lowest resting sell price, or 0 if the ask
// side is empty.
func (b *Book) GetBestAskPrice() Price {
	if lvl, ok := b.asks.Min(); ok {
		return lvl.Price
	}
	return 0
}

// LastTradePrice returns the price of the most recent execution, or 0 if
// the book has not traded yet.
func (b *Book) LastTradePrice() Price {
	return b.lastTradePrice
}

// GetRandomOrder uniformly samples a live order of the given class. Used
// only by load-test tooling (cmd/loadtest), never by the matching core.
func (b *Book) GetRandomOrder(class OrderClass, rng *rand.Rand) *Order {
	var idx map[uint64]*Order
	switch class {
	case LimitClass:
		idx = b.limitIdx
	case StopClass:
		idx = b.stopIdx
	case StopLimitClass:
		idx = b.stopLimitIdx
	}
	if len(idx) == 0 {
		return nil
	}
	n := rng.Intn(len(idx))
	i := 0
	for _, o := range idx {
		if i == n {
			return o
		}
		i++
	}
	return nil
}

// --- internal mechanics ------------------------------------------------

func (b *Book) idLive(id uint64) bool {
	if _, ok := b.limitIdx[id]; ok {
		return true
	}
	if _, ok := b.stopIdx[id]; ok {
		return true
	}
	if _, ok := b.stopLimitIdx[id]; ok {
		return true
	}
	return false
}

func (b *Book) ladderFor(side Side) *ladder {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

func (b *Book) stopLadderFor(side Side) *ladder {
	if side == Buy {
		return b.buyStops
	}
	return b.sellStops
}

// rest inserts a fresh (non-matching) order into the given ladder at price,
// creating the Limit bucket if needed, and indexes it.
func (b *Book) rest(o *Order, idx map[uint64]*Order, l *ladder, price Price) {
	lvl, ok := l.Get(&Limit{Price: price})
	if !ok {
		lvl = newLimit(price, o.Side)
		l.Set(lvl)
	}
	lvl.append(o)
	idx[o.ID] = o
}

// unrest detaches a resting order from its Limit and index, deleting the
// Limit from its ladder if it is now empty.
func (b *Book) unrest(o *Order, idx map[uint64]*Order, l *ladder) {
	lvl := o.level
	lvl.remove(o)
	if lvl.empty() {
		l.Delete(lvl)
	}
	delete(idx, o.ID)
}

// submitMarket matches shares against the opposite ladder with unbounded
// price feasibility. Unfilled residual is discarded. Does not run the stop
// cascade — callers run it once after the top-level request completes.
func (b *Book) submitMarket(id uint64, side Side, shares Qty) *Result {
	res := &Result{OrderID: id, Side: side, Type: Market}
	remaining := b.match(res, side, shares, true, 0)
	res.LeavesQty = 0
	res.CumQty = shares - remaining
	return res
}

// submitLimit matches shares against the opposite ladder while price is
// feasible, then rests any residual at price.
func (b *Book) submitLimit(id uint64, side Side, shares Qty, price Price) *Result {
	res := &Result{OrderID: id, Side: side, Type: Limit}
	remaining := b.match(res, side, shares, false, price)
	res.CumQty = shares - remaining
	res.LeavesQty = remaining
	if remaining > 0 {
		o := &Order{ID: id, Side: side, Type: Limit, Shares: remaining, OriginalShares: shares, LimitPrice: price, ExchTime: b.now()}
		b.rest(o, b.limitIdx, b.ladderFor(side), price)
		res.Resting = true
	}
	return res
}

// match is the core matching loop shared by market and limit aggressors.
// It mutates res in place and returns the residual quantity left unfilled.
func (b *Book) match(res *Result, side Side, shares Qty, unbounded bool, limitPrice Price) Qty {
	remaining := shares
	opp := b.ladderFor(side.opposite())

	for remaining > 0 {
		lvl, ok := opp.Min()
		if !ok {
			break
		}
		if !unbounded {
			if side == Buy && limitPrice < lvl.Price {
				break
			}
			if side == Sell && limitPrice > lvl.Price {
				break
			}
		}

		h := lvl.front()
		if h == nil {
			opp.Delete(lvl)
			continue
		}

		x := remaining
		if h.Shares < x {
			x = h.Shares
		}

		h.Shares -= x
		lvl.TotalVolume -= x
		remaining -= x
		b.lastTradePrice = lvl.Price

		res.CumQty += x
		res.recordFill(lvl.Price, x)

		pf := PassiveFill{
			OrderID:       h.ID,
			ContraOrderID: res.OrderID,
			Price:         lvl.Price,
			Qty:           x,
			LeavesQty:     h.Shares,
			CumQty:        h.OriginalShares - h.Shares,
		}
		res.PassiveFills = append(res.PassiveFills, pf)

		if h.Shares == 0 {
			lvl.remove(h)
			delete(b.limitIdx, h.ID)
		}
		if lvl.empty() {
			opp.Delete(lvl)
		}
	}
	return remaining
}

// runCascade drives the stop ladders to fixpoint: while a buy-stop's trigger
// is at or below the last trade price, or a sell-stop's trigger is at or
// above it, it fires as a market (Stop) or limit (StopLimit) order. Each
// fired order can itself move the last trade price, so the scan restarts
// until neither side has anything left to fire. Nothing fires before the
// book's first trade (last trade price 0).
func (b *Book) runCascade() []*Result {
	if b.lastTradePrice == 0 {
		return nil
	}
	var fired []*Result
	for {
		progressed := false

		for {
			lvl, ok := b.buyStops.Min()
			if !ok || lvl.Price > b.lastTradePrice {
				break
			}
			fired = append(fired, b.fireStopLevel(lvl, b.buyStops, b.stopIdx, b.stopLimitIdx)...)
			progressed = true
		}

		for {
			lvl, ok := b.sellStops.Min()
			if !ok || lvl.Price < b.lastTradePrice {
				break
			}
			fired = append(fired, b.fireStopLevel(lvl, b.sellStops, b.stopIdx, b.stopLimitIdx)...)
			progressed = true
		}

		if !progressed {
			return fired
		}
	}
}

// fireStopLevel submits every order resting at a triggered stop level, in
// FIFO order, then removes the now-empty level from its ladder.
func (b *Book) fireStopLevel(lvl *Limit, l *ladder, stopIdx, stopLimitIdx map[uint64]*Order) []*Result {
	orders := lvl.Orders()
	var results []*Result
	for _, o := range orders {
		lvl.remove(o)
		switch o.Type {
		case Stop:
			delete(stopIdx, o.ID)
			results = append(results, b.submitMarket(o.ID, o.Side, o.Shares))
		case StopLimit:
			delete(stopLimitIdx, o.ID)
			results = append(results, b.submitLimit(o.ID, o.Side, o.Shares, o.LimitPrice))
		}
	}
	l.Delete(lvl)
	return results
}
