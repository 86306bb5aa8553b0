package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
)

// CouponRepository implements repositories.CouponRepository.
type CouponRepository struct {
	db *sql.DB
}

// NewCouponRepository wraps the pool.
func NewCouponRepository(db *sql.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

const couponColumns = `id, code, type, value, min_order_amount, usage_limit,
	max_uses_per_user, used_count, starts_at, expires_at, is_active,
	created_at, updated_at`

func scanCoupon(row *sql.Row) (domain.Coupon, error) {
	var coupon domain.Coupon
	var usageLimit, maxUsesPerUser sql.NullInt64
	var startsAt, expiresAt sql.NullTime
	err := row.Scan(
		&coupon.ID, &coupon.Code, &coupon.Type, &coupon.Value, &coupon.MinOrderAmount,
		&usageLimit, &maxUsesPerUser, &coupon.UsedCount, &startsAt, &expiresAt,
		&coupon.IsActive, &coupon.CreatedAt, &coupon.UpdatedAt,
	)
	if err != nil {
		return domain.Coupon{}, err
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int64)
		coupon.UsageLimit = &limit
	}
	if maxUsesPerUser.Valid {
		limit := int(maxUsesPerUser.Int64)
		coupon.MaxUsesPerUser = &limit
	}
	if startsAt.Valid {
		t := startsAt.Time
		coupon.StartsAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		coupon.ExpiresAt = &t
	}
	return coupon, nil
}

// FindByCode is a plain lock-free read used by pricing previews.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE code = $1
	`, strings.TrimSpace(code))
	coupon, err := scanCoupon(row)
	if err != nil {
		return domain.Coupon{}, mapError("coupon find", err)
	}
	return coupon, nil
}

// FindByCodeForUpdate takes a row-level write lock on the coupon, filtering on
// is_active and the time window. The lock is held until the transaction
// carried by ctx commits, serialising concurrent redemptions.
func (r *CouponRepository) FindByCodeForUpdate(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE code = $1
		  AND is_active = TRUE
		  AND (starts_at IS NULL OR starts_at <= $2)
		  AND (expires_at IS NULL OR expires_at >= $2)
		FOR UPDATE
	`, strings.TrimSpace(code), now)
	coupon, err := scanCoupon(row)
	if err != nil {
		return domain.Coupon{}, mapError("coupon find for update", err)
	}
	return coupon, nil
}

// CountRedemptionsByUser counts prior redemptions under the caller's
// transaction (and therefore under the coupon row lock).
func (r *CouponRepository) CountRedemptionsByUser(ctx context.Context, couponID, userID string) (int, error) {
	var count int
	err := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM coupon_redemptions
		WHERE coupon_id = $1 AND user_id = $2
	`, couponID, userID).Scan(&count)
	if err != nil {
		return 0, mapError("coupon count redemptions", err)
	}
	return count, nil
}

// IncrementUsage bumps used_count and records the redemption row. Called only
// inside the order-creation transaction, after the order row exists.
func (r *CouponRepository) IncrementUsage(ctx context.Context, couponID, userID, orderID string, now time.Time) error {
	q := conn(ctx, r.db)
	result, err := q.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1, updated_at = $2
		WHERE id = $1
	`, couponID, now)
	if err != nil {
		return mapError("coupon increment usage", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError("coupon increment usage", err)
	}
	if affected == 0 {
		return notFound("coupon increment usage")
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO coupon_redemptions (coupon_id, user_id, order_id, redeemed_at)
		VALUES ($1, $2, $3, $4)
	`, couponID, userID, orderID, now)
	if err != nil {
		return mapError("coupon record redemption", err)
	}
	return nil
}
