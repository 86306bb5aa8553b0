package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
)

// PaymentIntentRepository implements repositories.PaymentIntentRepository.
type PaymentIntentRepository struct {
	db *sql.DB
}

// NewPaymentIntentRepository wraps the pool.
func NewPaymentIntentRepository(db *sql.DB) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

// Insert persists a new payment attempt.
func (r *PaymentIntentRepository) Insert(ctx context.Context, intent domain.PaymentIntent) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO payment_intents (id, order_id, status, amount, currency,
			method, gateway_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, intent.ID, intent.OrderID, intent.Status, intent.Amount, intent.Currency,
		intent.Method, intent.GatewayRef, intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		return mapError("payment intent insert", err)
	}
	return nil
}

// FindByID loads a payment attempt.
func (r *PaymentIntentRepository) FindByID(ctx context.Context, intentID string) (domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, order_id, status, amount, currency, method, gateway_ref,
		       created_at, updated_at
		FROM payment_intents
		WHERE id = $1
	`, intentID).Scan(
		&intent.ID, &intent.OrderID, &intent.Status, &intent.Amount,
		&intent.Currency, &intent.Method, &intent.GatewayRef,
		&intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		return domain.PaymentIntent{}, mapError("payment intent find", err)
	}
	return intent, nil
}

// UpdateStatus persists a state-machine transition with the gateway reference.
func (r *PaymentIntentRepository) UpdateStatus(ctx context.Context, intentID string, status domain.PaymentIntentStatus, gatewayRef string, updatedAt time.Time) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $2, gateway_ref = $3, updated_at = $4
		WHERE id = $1
	`, intentID, status, gatewayRef, updatedAt)
	if err != nil {
		return mapError("payment intent update status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError("payment intent update status", err)
	}
	if affected == 0 {
		return notFound("payment intent update status")
	}
	return nil
}
