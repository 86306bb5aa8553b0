package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
)

// OrderRepository implements repositories.OrderRepository.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository wraps the pool.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert persists the order header and its items. Callers run this inside the
// order-creation transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	q := conn(ctx, r.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, user_id, cart_id, status, payment_status,
			payment_method, currency, coupon_code, subtotal, discount, tax_amount,
			shipping_cost, total, shipping_address_id, billing_address_id,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, order.ID, order.OrderNumber, order.UserID, order.CartID, order.Status,
		order.PaymentStatus, order.PaymentMethod, order.Currency, order.CouponCode,
		order.Subtotal, order.Discount, order.TaxAmount, order.ShippingCost, order.Total,
		nullIfEmpty(order.ShippingAddressID), nullIfEmpty(order.BillingAddressID),
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return mapError("order insert", err)
	}

	for _, item := range order.Items {
		_, err = q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, variant_id, name, sku,
				image_url, quantity, unit_price, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, item.ID, item.OrderID, item.ProductID, item.VariantID, item.Name,
			item.SKU, item.ImageURL, item.Quantity, item.UnitPrice, item.Total)
		if err != nil {
			return mapError("order item insert", err)
		}
	}
	return nil
}

// FindByID loads the order and its items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	q := conn(ctx, r.db)

	var order domain.Order
	var shippingAddr, billingAddr sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, order_number, user_id, cart_id, status, payment_status,
		       payment_method, currency, coupon_code, subtotal, discount, tax_amount,
		       shipping_cost, total, shipping_address_id, billing_address_id,
		       created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.CartID, &order.Status,
		&order.PaymentStatus, &order.PaymentMethod, &order.Currency, &order.CouponCode,
		&order.Subtotal, &order.Discount, &order.TaxAmount, &order.ShippingCost,
		&order.Total, &shippingAddr, &billingAddr, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, mapError("order find", err)
	}
	order.ShippingAddressID = shippingAddr.String
	order.BillingAddressID = billingAddr.String

	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, variant_id, name, sku, image_url,
		       quantity, unit_price, total
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return domain.Order{}, mapError("order items list", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.VariantID, &item.Name,
			&item.SKU, &item.ImageURL, &item.Quantity, &item.UnitPrice, &item.Total,
		); err != nil {
			return domain.Order{}, mapError("order items scan", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, mapError("order items iterate", err)
	}
	return order, nil
}

// UpdateStatus persists a state-machine-gated status change together with the
// payment side.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, paymentStatus domain.PaymentStatus, updatedAt time.Time) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders SET status = $2, payment_status = $3, updated_at = $4
		WHERE id = $1
	`, orderID, status, paymentStatus, updatedAt)
	if err != nil {
		return mapError("order update status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError("order update status", err)
	}
	if affected == 0 {
		return notFound("order update status")
	}
	return nil
}

// NextOrderNumber yields the next value of the order number sequence.
func (r *OrderRepository) NextOrderNumber(ctx context.Context) (int64, error) {
	var seq int64
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq)
	if err != nil {
		return 0, mapError("order next number", err)
	}
	return seq, nil
}
