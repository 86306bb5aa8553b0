package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/payments"
	"github.com/cartforge/commerce/internal/repositories"
)

const paymentIntentIDPrefix = "pi_"

// ErrPaymentIntentInvalidInput signals bad arguments to intent operations.
var ErrPaymentIntentInvalidInput = errors.New("payment intent: invalid input")

// paymentIntentTransitions seals the terminal states: succeeded, failed and
// cancelled accept no outgoing edges, so a captured payment can never be
// re-marked failed by a late webhook.
var paymentIntentTransitions = map[domain.PaymentIntentStatus][]domain.PaymentIntentStatus{
	domain.PaymentIntentCreated:    {domain.PaymentIntentProcessing, domain.PaymentIntentCancelled},
	domain.PaymentIntentProcessing: {domain.PaymentIntentSucceeded, domain.PaymentIntentFailed, domain.PaymentIntentCancelled},
}

// PaymentIntentStateMachineDeps bundles collaborators for construction.
type PaymentIntentStateMachineDeps struct {
	Intents      repositories.PaymentIntentRepository
	Orders       repositories.OrderRepository
	Reservations repositories.ReservationRepository
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// PaymentIntentStateMachine governs the lifecycle of payment attempts and is
// the authoritative driver of an order's payment status. Settling a payment
// also commits the order's inventory reservations so the release sweep can
// no longer return their stock.
type PaymentIntentStateMachine struct {
	intents      repositories.PaymentIntentRepository
	orders       repositories.OrderRepository
	reservations repositories.ReservationRepository
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewPaymentIntentStateMachine validates dependencies and applies defaults.
func NewPaymentIntentStateMachine(deps PaymentIntentStateMachineDeps) (*PaymentIntentStateMachine, error) {
	if deps.Intents == nil {
		return nil, errors.New("payment intent state machine: intent repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment intent state machine: order repository is required")
	}
	if deps.Reservations == nil {
		return nil, errors.New("payment intent state machine: reservation repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentIntentStateMachine{
		intents:      deps.Intents,
		orders:       deps.Orders,
		reservations: deps.Reservations,
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		logger:       logger,
	}, nil
}

// CanTransition is a pure lookup on the transition table.
func (m *PaymentIntentStateMachine) CanTransition(from, to domain.PaymentIntentStatus) bool {
	return slices.Contains(paymentIntentTransitions[from], to)
}

// CreateIntent opens a payment attempt for the order. Amount, currency and
// method are fixed for the lifetime of the intent.
func (m *PaymentIntentStateMachine) CreateIntent(ctx context.Context, order domain.Order, method string) (domain.PaymentIntent, error) {
	method = strings.TrimSpace(method)
	if strings.TrimSpace(order.ID) == "" {
		return domain.PaymentIntent{}, fmt.Errorf("%w: order id is required", ErrPaymentIntentInvalidInput)
	}
	if method == "" {
		return domain.PaymentIntent{}, fmt.Errorf("%w: payment method is required", ErrPaymentIntentInvalidInput)
	}
	if order.Total <= 0 {
		return domain.PaymentIntent{}, fmt.Errorf("%w: order total must be positive", ErrPaymentIntentInvalidInput)
	}

	now := m.clock()
	intent := domain.PaymentIntent{
		ID:        paymentIntentIDPrefix + m.newID(),
		OrderID:   order.ID,
		Status:    domain.PaymentIntentCreated,
		Amount:    order.Total,
		Currency:  order.Currency,
		Method:    method,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.intents.Insert(ctx, intent); err != nil {
		return domain.PaymentIntent{}, err
	}
	return intent, nil
}

// Transition validates the edge, persists the new status and mutates the intent.
func (m *PaymentIntentStateMachine) Transition(ctx context.Context, intent *domain.PaymentIntent, to domain.PaymentIntentStatus, gatewayRef string) error {
	if intent == nil {
		return fmt.Errorf("%w: intent is required", ErrPaymentIntentInvalidInput)
	}
	if !m.CanTransition(intent.Status, to) {
		return &InvalidTransitionError{Entity: "payment_intent", From: string(intent.Status), To: string(to)}
	}

	now := m.clock()
	ref := strings.TrimSpace(gatewayRef)
	if ref == "" {
		ref = intent.GatewayRef
	}
	if err := m.intents.UpdateStatus(ctx, intent.ID, to, ref, now); err != nil {
		return err
	}
	intent.Status = to
	intent.GatewayRef = ref
	intent.UpdatedAt = now
	return nil
}

// RecordGatewayResult maps a gateway outcome onto the intent and, on a
// terminal outcome, onto the owning order's payment status. This transition,
// not order creation, is what marks an order paid.
func (m *PaymentIntentStateMachine) RecordGatewayResult(ctx context.Context, intent *domain.PaymentIntent, result payments.Result) error {
	if intent == nil {
		return fmt.Errorf("%w: intent is required", ErrPaymentIntentInvalidInput)
	}

	var target domain.PaymentIntentStatus
	switch result.Status {
	case payments.StatusSucceeded:
		target = domain.PaymentIntentSucceeded
	case payments.StatusFailed:
		target = domain.PaymentIntentFailed
	case payments.StatusPending:
		target = domain.PaymentIntentProcessing
	default:
		return fmt.Errorf("%w: unsupported gateway status %q", ErrPaymentIntentInvalidInput, result.Status)
	}

	if intent.Status == target {
		// COD charges report pending while the intent already sits in
		// processing. Acceptance is the commit point for COD stock: the
		// money settles offline, so the reservations must not be returned
		// by the TTL sweep while the parcel is out for delivery.
		if target == domain.PaymentIntentProcessing && intent.Method == PaymentMethodCOD {
			return m.reservations.MarkCommitted(ctx, intent.OrderID, m.clock())
		}
		return nil
	}
	if err := m.Transition(ctx, intent, target, result.TransactionID); err != nil {
		return err
	}

	now := m.clock()
	switch target {
	case domain.PaymentIntentSucceeded:
		// Payment landed: the reservations are consumed, not expired, so
		// the release sweep must never see them again.
		if err := m.reservations.MarkCommitted(ctx, intent.OrderID, now); err != nil {
			return err
		}
		if err := m.orders.UpdateStatus(ctx, intent.OrderID, domain.OrderStatusPaid, domain.PaymentStatusPaid, now); err != nil {
			return err
		}
	case domain.PaymentIntentFailed:
		if err := m.orders.UpdateStatus(ctx, intent.OrderID, domain.OrderStatusFailed, domain.PaymentStatusFailed, now); err != nil {
			return err
		}
	}

	m.logger(ctx, "payment_intent.gateway_result", map[string]any{
		"intentId": intent.ID,
		"orderId":  intent.OrderID,
		"status":   string(target),
		"ref":      intent.GatewayRef,
	})
	return nil
}
