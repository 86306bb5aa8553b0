package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/repositories"
)

// ErrInvalidTransition is matched by errors.Is for any illegal state change.
var ErrInvalidTransition = errors.New("state machine: invalid transition")

// InvalidTransitionError identifies the entity and the attempted edge.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: illegal transition %s -> %s", e.Entity, e.From, e.To)
}

// Is lets callers match with errors.Is(err, ErrInvalidTransition).
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// cartTransitions is the full legal transition table. checked_out and expired
// are terminal and deliberately absent as source states.
var cartTransitions = map[domain.CartStatus][]domain.CartStatus{
	domain.CartStatusActive: {domain.CartStatusLocked, domain.CartStatusExpired},
	domain.CartStatusLocked: {domain.CartStatusCheckedOut, domain.CartStatusActive},
}

// CartStateMachine enforces the cart lifecycle: items may be mutated only
// while active, checkout locks the cart, and locked carts can roll back to
// active when a checkout is abandoned.
type CartStateMachine struct {
	carts repositories.CartRepository
	clock func() time.Time
}

// NewCartStateMachine wires the persistence used by Transition. The clock
// defaults to time.Now.
func NewCartStateMachine(carts repositories.CartRepository, clock func() time.Time) (*CartStateMachine, error) {
	if carts == nil {
		return nil, errors.New("cart state machine: cart repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &CartStateMachine{
		carts: carts,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

// CanTransition is a pure lookup on the transition table.
func (m *CartStateMachine) CanTransition(from, to domain.CartStatus) bool {
	return slices.Contains(cartTransitions[from], to)
}

// CanModify reports whether cart items may still be mutated.
func (m *CartStateMachine) CanModify(status domain.CartStatus) bool {
	return status == domain.CartStatusActive
}

// CanCheckout reports whether a checkout session may operate on the cart.
func (m *CartStateMachine) CanCheckout(status domain.CartStatus) bool {
	return status == domain.CartStatusActive || status == domain.CartStatusLocked
}

// CanMerge reports whether the guest cart's items may be folded into the
// user's cart at sign-in. Both carts must still accept item mutations.
func (m *CartStateMachine) CanMerge(target, source domain.Cart) bool {
	return m.CanModify(target.Status) && m.CanModify(source.Status)
}

// Transition validates the edge, persists the new status and mutates the cart.
func (m *CartStateMachine) Transition(ctx context.Context, cart *domain.Cart, to domain.CartStatus) error {
	if cart == nil {
		return errors.New("cart state machine: cart is required")
	}
	if !m.CanTransition(cart.Status, to) {
		return &InvalidTransitionError{Entity: "cart", From: string(cart.Status), To: string(to)}
	}

	now := m.clock()
	if err := m.carts.UpdateStatus(ctx, cart.ID, to, now); err != nil {
		return err
	}
	cart.Status = to
	cart.UpdatedAt = now
	return nil
}
