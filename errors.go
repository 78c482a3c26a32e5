package main

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when a transfer or wager request
	// carries a signature that was not produced by the claimed sender.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInsufficientBalance is returned when the sender's ledger balance
	// does not cover the requested amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// BroadcastError wraps a failure to submit a transaction to the chain.
// It is never swallowed: losing a dispute or a settlement silently is a
// safety violation, so it propagates to the caller's 500 path and the
// outer delivery is retried.
type BroadcastError struct {
	err error
}

func BroadcastErrorf(format string, args ...any) BroadcastError {
	return BroadcastError{err: fmt.Errorf(format, args...)}
}

func (e BroadcastError) Error() string {
	return "broadcast failed: " + e.err.Error()
}

func (e BroadcastError) Unwrap() error {
	return e.err
}
