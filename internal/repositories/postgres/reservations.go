package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
)

// ReservationRepository implements repositories.ReservationRepository.
type ReservationRepository struct {
	db *sql.DB
}

// NewReservationRepository wraps the pool.
func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// Insert records a stock reservation taken for an order item.
func (r *ReservationRepository) Insert(ctx context.Context, reservation domain.InventoryReservation) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO inventory_reservations (id, order_id, variant_id, sku, quantity,
			status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, reservation.ID, reservation.OrderID, reservation.VariantID, reservation.SKU,
		reservation.Quantity, reservation.Status, reservation.ExpiresAt,
		reservation.CreatedAt, reservation.UpdatedAt)
	if err != nil {
		return mapError("reservation insert", err)
	}
	return nil
}

// MarkCommitted consumes every reserved row of the order once payment lands.
func (r *ReservationRepository) MarkCommitted(ctx context.Context, orderID string, now time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE inventory_reservations
		SET status = $2, updated_at = $3
		WHERE order_id = $1 AND status = $4
	`, orderID, domain.ReservationCommitted, now, domain.ReservationReserved)
	if err != nil {
		return mapError("reservation commit", err)
	}
	return nil
}

// ListExpired returns reserved rows whose TTL lapsed without commit.
func (r *ReservationRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]domain.InventoryReservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, order_id, variant_id, sku, quantity, status, expires_at,
		       created_at, updated_at
		FROM inventory_reservations
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3
	`, domain.ReservationReserved, cutoff, limit)
	if err != nil {
		return nil, mapError("reservation list expired", err)
	}
	defer func() { _ = rows.Close() }()

	var reservations []domain.InventoryReservation
	for rows.Next() {
		var reservation domain.InventoryReservation
		if err := rows.Scan(
			&reservation.ID, &reservation.OrderID, &reservation.VariantID,
			&reservation.SKU, &reservation.Quantity, &reservation.Status,
			&reservation.ExpiresAt, &reservation.CreatedAt, &reservation.UpdatedAt,
		); err != nil {
			return nil, mapError("reservation scan", err)
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("reservation iterate", err)
	}
	return reservations, nil
}

// MarkReleased records that the sweep returned the reservation's stock. The
// status filter keeps the release idempotent against concurrent sweeps.
func (r *ReservationRepository) MarkReleased(ctx context.Context, reservationID string, now time.Time) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE inventory_reservations
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`, reservationID, domain.ReservationReleased, now, domain.ReservationReserved)
	if err != nil {
		return mapError("reservation release", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError("reservation release", err)
	}
	if affected == 0 {
		return notFound("reservation release")
	}
	return nil
}
