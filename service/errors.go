package service

import "github.com/cockroachdb/errors"

var (
	// ErrNotFound: symbol, window or (id, epoch) record absent.
	ErrNotFound = errors.New("service: not found")

	// ErrInvalidInitialEvent: the first event of a new history must be NEW,
	// there is nothing to trade against or cancel.
	ErrInvalidInitialEvent = errors.New("service: initial event must be NEW")

	// ErrAmbiguousTrade: a cascade was given more than one TRADE
	// compensation. Nothing is changed.
	ErrAmbiguousTrade = errors.New("service: ambiguous trade in cascade")

	ErrUnroutable   = errors.New("service: event cannot be routed")
	ErrInvalidEvent = errors.New("service: invalid event")
	ErrClosed       = errors.New("service: engine closed")
)
