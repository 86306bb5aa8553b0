package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// CODGateway settles cash-on-delivery orders offline. Charges stay pending
// until the courier confirms collection; nothing ever succeeds at checkout.
type CODGateway struct {
	clock  func() time.Time
	newID  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// CODGatewayConfig configures the CODGateway.
type CODGatewayConfig struct {
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewCODGateway constructs the offline gateway.
func NewCODGateway(cfg CODGatewayConfig) *CODGateway {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := cfg.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CODGateway{
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}
}

// Charge records the pending collection. No money moves here.
func (g *CODGateway) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if req.Amount <= 0 {
		return Result{}, errors.New("cod: amount must be positive")
	}
	ref := "cod_" + g.newID()
	g.logger(ctx, "payments.cod.charge", map[string]any{
		"orderId": req.OrderID,
		"ref":     ref,
		"amount":  req.Amount,
	})
	return Result{
		TransactionID: ref,
		Status:        StatusPending,
	}, nil
}

// Refund for COD is a bookkeeping entry resolved by support.
func (g *CODGateway) Refund(ctx context.Context, transactionID string, amount int64) (Result, error) {
	if strings.TrimSpace(transactionID) == "" {
		return Result{}, errors.New("cod: transaction id is required")
	}
	g.logger(ctx, "payments.cod.refund", map[string]any{
		"ref":    transactionID,
		"amount": amount,
	})
	return Result{
		Succeeded:     true,
		TransactionID: transactionID,
		Status:        StatusSucceeded,
	}, nil
}

// Verify reports the offline reference as still pending.
func (g *CODGateway) Verify(ctx context.Context, transactionID string) (Result, error) {
	if strings.TrimSpace(transactionID) == "" {
		return Result{}, errors.New("cod: transaction id is required")
	}
	return Result{
		TransactionID: transactionID,
		Status:        StatusPending,
	}, nil
}
