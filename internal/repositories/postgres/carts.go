package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
)

// CartRepository implements repositories.CartRepository.
type CartRepository struct {
	db *sql.DB
}

// NewCartRepository wraps the pool.
func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// FindByID loads the cart header and its items.
func (r *CartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	q := conn(ctx, r.db)

	var cart domain.Cart
	var userID, sessionID sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, session_id, status, currency, coupon_code,
		       subtotal, discount, tax_amount, shipping_cost, total,
		       created_at, updated_at
		FROM carts
		WHERE id = $1
	`, cartID).Scan(
		&cart.ID, &userID, &sessionID, &cart.Status, &cart.Currency, &cart.CouponCode,
		&cart.Subtotal, &cart.Discount, &cart.TaxAmount, &cart.ShippingCost, &cart.Total,
		&cart.CreatedAt, &cart.UpdatedAt,
	)
	if err != nil {
		return domain.Cart{}, mapError("cart find", err)
	}
	cart.UserID = userID.String
	cart.SessionID = sessionID.String

	rows, err := q.QueryContext(ctx, `
		SELECT id, cart_id, product_id, variant_id, name, sku, image_url,
		       quantity, unit_price, total_price, added_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY added_at
	`, cartID)
	if err != nil {
		return domain.Cart{}, mapError("cart items list", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(
			&item.ID, &item.CartID, &item.ProductID, &item.VariantID, &item.Name,
			&item.SKU, &item.ImageURL, &item.Quantity, &item.UnitPrice, &item.TotalPrice,
			&item.AddedAt,
		); err != nil {
			return domain.Cart{}, mapError("cart items scan", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, mapError("cart items iterate", err)
	}
	return cart, nil
}

// UpdateStatus persists a state-machine transition.
func (r *CartRepository) UpdateStatus(ctx context.Context, cartID string, status domain.CartStatus, updatedAt time.Time) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE carts SET status = $2, updated_at = $3
		WHERE id = $1
	`, cartID, status, updatedAt)
	if err != nil {
		return mapError("cart update status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError("cart update status", err)
	}
	if affected == 0 {
		return notFound("cart update status")
	}
	return nil
}

// UpdateTotals persists the recalculated monetary columns.
func (r *CartRepository) UpdateTotals(ctx context.Context, cart domain.Cart) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE carts
		SET subtotal = $2, discount = $3, tax_amount = $4, shipping_cost = $5,
		    total = $6, updated_at = $7
		WHERE id = $1
	`, cart.ID, cart.Subtotal, cart.Discount, cart.TaxAmount, cart.ShippingCost,
		cart.Total, cart.UpdatedAt)
	if err != nil {
		return mapError("cart update totals", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError("cart update totals", err)
	}
	if affected == 0 {
		return notFound("cart update totals")
	}
	return nil
}

// Clear deletes the items and detaches the coupon after a successful order.
func (r *CartRepository) Clear(ctx context.Context, cartID string, updatedAt time.Time) error {
	q := conn(ctx, r.db)
	if _, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return mapError("cart clear items", err)
	}
	_, err := q.ExecContext(ctx, `
		UPDATE carts
		SET coupon_code = NULL, subtotal = 0, discount = 0, tax_amount = 0,
		    shipping_cost = 0, total = 0, updated_at = $2
		WHERE id = $1
	`, cartID, updatedAt)
	if err != nil {
		return mapError("cart clear", err)
	}
	return nil
}
