package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/payments"
)

// ErrPaymentMethodUnsupported signals that no gateway is registered for the
// order's payment method.
var ErrPaymentMethodUnsupported = errors.New("payment processor: unsupported payment method")

// PaymentProcessorDeps bundles collaborators for construction.
type PaymentProcessorDeps struct {
	Intents  *PaymentIntentStateMachine
	Gateways map[string]payments.Gateway
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// PaymentProcessor drives a charge attempt end to end: it opens an intent,
// invokes the gateway for the order's method and records the outcome through
// the intent state machine. The state machine, not this processor, owns the
// order's payment status.
type PaymentProcessor struct {
	intents  *PaymentIntentStateMachine
	gateways map[string]payments.Gateway
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentProcessor validates dependencies.
func NewPaymentProcessor(deps PaymentProcessorDeps) (*PaymentProcessor, error) {
	if deps.Intents == nil {
		return nil, errors.New("payment processor: intent state machine is required")
	}
	if len(deps.Gateways) == 0 {
		return nil, errors.New("payment processor: at least one gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentProcessor{
		intents:  deps.Intents,
		gateways: deps.Gateways,
		logger:   logger,
	}, nil
}

// Capture charges the order through the gateway registered for its payment
// method. The intent ID doubles as the gateway idempotency key, so a retried
// capture cannot double-charge.
func (p *PaymentProcessor) Capture(ctx context.Context, order domain.Order) (domain.PaymentIntent, error) {
	method := strings.ToLower(strings.TrimSpace(order.PaymentMethod))
	gateway, ok := p.gateways[method]
	if !ok {
		return domain.PaymentIntent{}, fmt.Errorf("%w: %q", ErrPaymentMethodUnsupported, order.PaymentMethod)
	}

	intent, err := p.intents.CreateIntent(ctx, order, method)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if err := p.intents.Transition(ctx, &intent, domain.PaymentIntentProcessing, ""); err != nil {
		return intent, err
	}

	result, err := gateway.Charge(ctx, payments.ChargeRequest{
		OrderID:        order.ID,
		IntentID:       intent.ID,
		Amount:         order.Total,
		Currency:       order.Currency,
		Method:         method,
		IdempotencyKey: intent.ID,
		Metadata: map[string]string{
			"order_number": order.OrderNumber,
		},
	})
	if err != nil {
		// Outcome unknown (gateway unreachable): the intent stays in
		// processing so a later Verify can settle it.
		p.logger(ctx, "payment.charge_error", map[string]any{
			"orderId":  order.ID,
			"intentId": intent.ID,
			"method":   method,
			"error":    err.Error(),
		})
		return intent, err
	}

	if err := p.intents.RecordGatewayResult(ctx, &intent, result); err != nil {
		return intent, err
	}
	return intent, nil
}

// Reconcile re-queries the gateway for an unsettled intent and records the
// authoritative outcome. Used by webhook-less deployments to settle intents
// stuck in processing.
func (p *PaymentProcessor) Reconcile(ctx context.Context, intent *domain.PaymentIntent) error {
	if intent == nil {
		return fmt.Errorf("%w: intent is required", ErrPaymentIntentInvalidInput)
	}
	gateway, ok := p.gateways[intent.Method]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPaymentMethodUnsupported, intent.Method)
	}
	result, err := gateway.Verify(ctx, intent.GatewayRef)
	if err != nil {
		return err
	}
	return p.intents.RecordGatewayResult(ctx, intent, result)
}
