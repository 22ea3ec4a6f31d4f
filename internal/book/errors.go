package book

import "errors"

var (
	// ErrNotFound is returned by cancel/modify when the referenced id is not
	// resting in the targeted order class.
	ErrNotFound = errors.New("book: order not found")

	// ErrInvalidRequest covers non-positive quantity/price and other
	// malformed programmatic requests caught before they touch the ladders.
	ErrInvalidRequest = errors.New("book: invalid request")

	// ErrDuplicateID is returned when a new order's id is already live in
	// some order class. The reference implementation silently replaces;
	// this implementation rejects (see DESIGN.md open-question decisions).
	ErrDuplicateID = errors.New("book: duplicate order id")
)
