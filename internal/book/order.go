package book

import (
	"fmt"
	"time"
)

// Order is a single order record. While resting, prev/next/level form an
// intrusive doubly linked node so a Limit can remove it in O(1) without
// scanning its queue.
type Order struct {
	ID             uint64
	Side           Side
	Type           OrderType
	Shares         Qty // residual quantity
	OriginalShares Qty // quantity at acceptance, for CumQty bookkeeping

	LimitPrice Price // for Limit and StopLimit
	StopPrice  Price // for Stop and StopLimit

	ExchTime time.Time // stamped on acceptance, diagnostics only

	level *Limit // owning price level while resting, nil otherwise
	prev  *Order
	next  *Order
}

func (o *Order) String() string {
	return fmt.Sprintf("order#%d side=%v type=%v shares=%d limit=%d stop=%d",
		o.ID, o.Side, o.Type, o.Shares, o.LimitPrice, o.StopPrice)
}
