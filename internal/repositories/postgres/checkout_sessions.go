package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/repositories"
)

// CheckoutSessionRepository implements repositories.CheckoutSessionRepository.
// The frozen snapshot is stored as a JSONB column: it is written once at
// session start and read back verbatim, never joined against live rows.
type CheckoutSessionRepository struct {
	db *sql.DB
}

// NewCheckoutSessionRepository wraps the pool.
func NewCheckoutSessionRepository(db *sql.DB) *CheckoutSessionRepository {
	return &CheckoutSessionRepository{db: db}
}

const sessionColumns = `id, cart_id, user_id, step, snapshot, shipping_address_id,
	billing_address_id, shipping_method, shipping_cost, payment_method, total,
	expires_at, completed_at, created_at, updated_at`

// Insert persists a new session with its snapshot.
func (r *CheckoutSessionRepository) Insert(ctx context.Context, session domain.CheckoutSession) error {
	snapshot, err := json.Marshal(session.Snapshot)
	if err != nil {
		return repositories.NewError("checkout session marshal snapshot", repositories.KindUnknown, err)
	}
	_, err = conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO checkout_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, session.ID, session.CartID, session.UserID, session.Step, snapshot,
		nullIfEmpty(session.ShippingAddressID), nullIfEmpty(session.BillingAddressID),
		session.ShippingMethod, session.ShippingCost, session.PaymentMethod,
		session.Total, session.ExpiresAt, session.CompletedAt,
		session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return mapError("checkout session insert", err)
	}
	return nil
}

// Update persists wizard progress. The snapshot column is deliberately not
// rewritten: it is immutable after Insert.
func (r *CheckoutSessionRepository) Update(ctx context.Context, session domain.CheckoutSession) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE checkout_sessions
		SET step = $2, shipping_address_id = $3, billing_address_id = $4,
		    shipping_method = $5, shipping_cost = $6, payment_method = $7,
		    total = $8, completed_at = $9, updated_at = $10
		WHERE id = $1
	`, session.ID, session.Step,
		nullIfEmpty(session.ShippingAddressID), nullIfEmpty(session.BillingAddressID),
		session.ShippingMethod, session.ShippingCost, session.PaymentMethod,
		session.Total, session.CompletedAt, session.UpdatedAt)
	if err != nil {
		return mapError("checkout session update", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError("checkout session update", err)
	}
	if affected == 0 {
		return notFound("checkout session update")
	}
	return nil
}

// FindByID loads a session and unmarshals its snapshot.
func (r *CheckoutSessionRepository) FindByID(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM checkout_sessions
		WHERE id = $1
	`, sessionID)
	return scanSession(row, "checkout session find")
}

// FindOpenByCart returns the newest incomplete, unexpired session for the
// cart; checkout-start idempotency keys off this read.
func (r *CheckoutSessionRepository) FindOpenByCart(ctx context.Context, cartID string, now time.Time) (domain.CheckoutSession, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM checkout_sessions
		WHERE cart_id = $1 AND completed_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, cartID, now)
	return scanSession(row, "checkout session find open")
}

// ExpireBefore deletes abandoned sessions past their TTL.
func (r *CheckoutSessionRepository) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx, `
		DELETE FROM checkout_sessions
		WHERE completed_at IS NULL AND expires_at <= $1
	`, cutoff)
	if err != nil {
		return 0, mapError("checkout session expire", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, mapError("checkout session expire", err)
	}
	return int(affected), nil
}

func scanSession(row *sql.Row, op string) (domain.CheckoutSession, error) {
	var session domain.CheckoutSession
	var snapshot []byte
	var shippingAddr, billingAddr sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&session.ID, &session.CartID, &session.UserID, &session.Step, &snapshot,
		&shippingAddr, &billingAddr, &session.ShippingMethod, &session.ShippingCost,
		&session.PaymentMethod, &session.Total, &session.ExpiresAt, &completedAt,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return domain.CheckoutSession{}, mapError(op, err)
	}
	session.ShippingAddressID = shippingAddr.String
	session.BillingAddressID = billingAddr.String
	if completedAt.Valid {
		t := completedAt.Time
		session.CompletedAt = &t
	}
	if err := json.Unmarshal(snapshot, &session.Snapshot); err != nil {
		return domain.CheckoutSession{}, repositories.NewError(
			fmt.Sprintf("%s unmarshal snapshot", op), repositories.KindUnknown, err)
	}
	return session, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
