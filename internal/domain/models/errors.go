package models

import "errors"

// Error kinds shared across components. Callers classify with errors.Is
// and decide retry/skip/propagate per kind.
var (
	// ErrInsufficientData means a training or feature window could not be
	// filled from the real series. The hour is skipped and revisited.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrUnknownSymbol means no real collection exists for the symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrStorageUnavailable means the document store cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUpstreamProtocol means the exchange returned a response that
	// could not be decoded. The batch is dropped and refetched next tick.
	ErrUpstreamProtocol = errors.New("malformed upstream response")
)
