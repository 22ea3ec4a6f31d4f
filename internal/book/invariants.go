package book

import "fmt"

// AssertInvariants walks every ladder and index and panics on the first
// violation found. It is debug tooling for tests, not part of the matching
// hot path — grounded on the pack's execution-fairness-simulator
// Book.AssertInvariants, adapted here for btree-backed ladders and
// per-class id indices instead of sorted slices and a single order index.
func (b *Book) AssertInvariants() {
	bestBid, bidOK := b.bids.Min()
	bestAsk, askOK := b.asks.Min()
	if bidOK && askOK && bestBid.Price >= bestAsk.Price {
		panic(fmt.Sprintf("book: crossed book: best bid %d >= best ask %d", bestBid.Price, bestAsk.Price))
	}

	limitCount := 0
	checkRestingLadder := func(name string, l *ladder) {
		l.Scan(func(lvl *Limit) bool {
			if lvl.head == nil {
				panic(fmt.Sprintf("book: empty %s level at price %d", name, lvl.Price))
			}
			sum := Qty(0)
			for o := lvl.head; o != nil; o = o.next {
				if o.Shares <= 0 {
					panic(fmt.Sprintf("book: non-positive shares on resting order %d at %s price %d", o.ID, name, lvl.Price))
				}
				sum += o.Shares
				limitCount++
			}
			if sum != lvl.TotalVolume {
				panic(fmt.Sprintf("book: %s level %d TotalVolume %d != summed shares %d", name, lvl.Price, lvl.TotalVolume, sum))
			}
			return true
		})
	}
	checkRestingLadder("bid", b.bids)
	checkRestingLadder("ask", b.asks)
	if limitCount != len(b.limitIdx) {
		panic(fmt.Sprintf("book: limitIdx size %d != resting limit order count %d", len(b.limitIdx), limitCount))
	}

	stopCount := 0
	checkStopLadder := func(name string, l *ladder) {
		l.Scan(func(lvl *Limit) bool {
			if lvl.head == nil {
				panic(fmt.Sprintf("book: empty %s level at price %d", name, lvl.Price))
			}
			for o := lvl.head; o != nil; o = o.next {
				if o.Shares <= 0 {
					panic(fmt.Sprintf("book: non-positive shares on dormant order %d at %s price %d", o.ID, name, lvl.Price))
				}
				stopCount++
			}
			return true
		})
	}
	checkStopLadder("buy-stop", b.buyStops)
	checkStopLadder("sell-stop", b.sellStops)
	if stopCount != len(b.stopIdx)+len(b.stopLimitIdx) {
		panic(fmt.Sprintf("book: stop indices size %d != dormant order count %d", len(b.stopIdx)+len(b.stopLimitIdx), stopCount))
	}

	for id, o := range b.limitIdx {
		if o.ID != id || o.level == nil {
			panic(fmt.Sprintf("book: limitIdx entry %d inconsistent with order state", id))
		}
	}
	for id, o := range b.stopIdx {
		if o.ID != id || o.level == nil {
			panic(fmt.Sprintf("book: stopIdx entry %d inconsistent with order state", id))
		}
	}
	for id, o := range b.stopLimitIdx {
		if o.ID != id || o.level == nil {
			panic(fmt.Sprintf("book: stopLimitIdx entry %d inconsistent with order state", id))
		}
	}
}
