// Package book implements the matching core: a single-symbol limit order
// book with price-time priority, market/limit/stop/stop-limit order types,
// and stop-order triggering.
package book

import "time"

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

func (s Side) opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType int

const (
	Market OrderType = iota
	Limit
	Stop
	StopLimit
)

// Clock is injected so SendingTime/ExchTime are deterministic under test.
type Clock func() time.Time

// Price is an integer number of ticks. The core never deals in fractional
// cents; the wire codec is responsible for truncating decimals to ticks.
type Price int64

// Qty is a positive share/contract count.
type Qty int64
