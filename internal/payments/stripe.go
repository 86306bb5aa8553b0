package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	api    stripeClients
	clock  func() time.Time
	logger StripeLogger
}

// NewStripeGateway constructs a Stripe-backed Gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		api: clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Charge creates and immediately confirms a Stripe payment intent for the
// requested amount.
func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if g == nil {
		return Result{}, errors.New("stripe: gateway is nil")
	}
	if req.Amount <= 0 {
		return Result{}, errors.New("stripe: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Confirm:  stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	metadata := map[string]string{
		"order_id":  req.OrderID,
		"intent_id": req.IntentID,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	params.Metadata = metadata

	intent, err := g.api.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			g.logger(ctx, "payments.stripe.charge.declined", map[string]any{
				"orderId": req.OrderID,
				"code":    string(stripeErr.Code),
			})
			return Result{Status: StatusFailed, FailureReason: stripeErr.Msg}, nil
		}
		return Result{}, fmt.Errorf("%w: create payment intent: %v", ErrGatewayUnavailable, err)
	}

	result := stripeResult(intent)
	g.logger(ctx, "payments.stripe.charge", map[string]any{
		"orderId":       req.OrderID,
		"paymentIntent": intent.ID,
		"status":        string(intent.Status),
	})
	return result, nil
}

// Refund returns funds against the given Stripe payment intent.
func (g *StripeGateway) Refund(ctx context.Context, transactionID string, amount int64) (Result, error) {
	if g == nil {
		return Result{}, errors.New("stripe: gateway is nil")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
	}
	params.Context = ctx
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	refund, err := g.api.refunds.New(params)
	if err != nil {
		return Result{}, fmt.Errorf("%w: refund: %v", ErrGatewayUnavailable, err)
	}
	g.logger(ctx, "payments.stripe.refund", map[string]any{
		"paymentIntent": transactionID,
		"refundId":      refund.ID,
	})
	return Result{
		Succeeded:     refund.Status == stripe.RefundStatusSucceeded || refund.Status == stripe.RefundStatusPending,
		TransactionID: transactionID,
		Status:        StatusSucceeded,
	}, nil
}

// Verify re-reads the payment intent from Stripe.
func (g *StripeGateway) Verify(ctx context.Context, transactionID string) (Result, error) {
	if g == nil {
		return Result{}, errors.New("stripe: gateway is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.api.intents.Get(transactionID, params)
	if err != nil {
		return Result{}, fmt.Errorf("%w: lookup payment intent: %v", ErrGatewayUnavailable, err)
	}
	return stripeResult(intent), nil
}

func stripeResult(intent *stripe.PaymentIntent) Result {
	if intent == nil {
		return Result{Status: StatusFailed}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	return Result{
		Succeeded:     status == StatusSucceeded,
		TransactionID: intent.ID,
		Status:        status,
	}
}
