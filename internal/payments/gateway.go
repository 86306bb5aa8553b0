// Package payments abstracts payment gateways behind a provider-neutral
// interface so order flows never depend on a concrete processor.
package payments

import (
	"context"
	"errors"
)

// Status is the gateway-neutral outcome of a charge attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrGatewayUnavailable signals a transport or provider outage, as opposed to
// a declined charge.
var ErrGatewayUnavailable = errors.New("payments: gateway unavailable")

// ChargeRequest carries everything a gateway needs to attempt a capture.
// Amount is in minor units.
type ChargeRequest struct {
	OrderID        string
	IntentID       string
	Amount         int64
	Currency       string
	Method         string
	IdempotencyKey string
	Metadata       map[string]string
}

// Result reports the gateway's decision on a charge or refund.
type Result struct {
	Succeeded     bool
	TransactionID string
	Status        Status
	FailureReason string
}

// Gateway is implemented by each payment provider adapter.
type Gateway interface {
	// Charge attempts to capture the amount. A declined charge returns a
	// Result with StatusFailed and a nil error; errors are reserved for
	// transport and provider failures.
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	// Refund returns funds against a prior transaction.
	Refund(ctx context.Context, transactionID string, amount int64) (Result, error)
	// Verify re-reads the provider-side state of a transaction.
	Verify(ctx context.Context, transactionID string) (Result, error)
}
