package book

// Limit is a single price level: a FIFO queue of resting orders, maintained
// as an intrusive doubly linked list so any order can be detached in O(1).
type Limit struct {
	Price       Price
	Side        Side
	TotalVolume Qty

	head *Order
	tail *Order
}

func newLimit(price Price, side Side) *Limit {
	return &Limit{Price: price, Side: side}
}

// append places order at the tail of the queue.
func (l *Limit) append(o *Order) {
	o.level = l
	o.prev = l.tail
	o.next = nil
	if l.tail != nil {
		l.tail.next = o
	} else {
		l.head = o
	}
	l.tail = o
	l.TotalVolume += o.Shares
}

// front returns the order at the front of the FIFO queue without removing it.
func (l *Limit) front() *Order {
	return l.head
}

// remove detaches a specific order from the queue in O(1).
func (l *Limit) remove(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	l.TotalVolume -= o.Shares
	o.prev, o.next, o.level = nil, nil, nil
}

// empty reports whether the level has no resting volume left.
func (l *Limit) empty() bool {
	return l.head == nil && l.TotalVolume == 0
}

// Orders returns the resting orders in FIFO order as a snapshot slice. Used
// by tests and by fireStopLevel; the matching loop itself does not call it.
func (l *Limit) Orders() []*Order {
	var out []*Order
	for o := l.head; o != nil; o = o.next {
		out = append(out, o)
	}
	return out
}
