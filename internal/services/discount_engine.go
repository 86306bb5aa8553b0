package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/repositories"
)

// Coupon rejection messages surfaced to the shopper. Business-rule rejections
// are structured results, never errors.
const (
	msgCouponInvalid      = "Invalid or expired coupon code"
	msgCouponLimitReached = "Coupon usage limit reached"
	msgCouponUserLimit    = "You have reached the usage limit for this coupon"
)

// CouponApplication is the structured outcome of ApplyCoupon. When Accepted is
// false, Message explains the rejection; Coupon and DiscountAmount are set only
// on acceptance.
type CouponApplication struct {
	Accepted       bool
	Coupon         *domain.Coupon
	DiscountAmount int64
	Message        string
}

// DiscountEngineDeps bundles collaborators for construction.
type DiscountEngineDeps struct {
	Coupons repositories.CouponRepository
	UoW     repositories.UnitOfWork
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// DiscountEngine validates coupons and computes discount amounts. ApplyCoupon
// is the usage-limit correctness path: the coupon row lock it takes serialises
// concurrent redemptions of a limited coupon.
type DiscountEngine struct {
	coupons repositories.CouponRepository
	uow     repositories.UnitOfWork
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewDiscountEngine validates dependencies and applies defaults.
func NewDiscountEngine(deps DiscountEngineDeps) (*DiscountEngine, error) {
	if deps.Coupons == nil {
		return nil, errors.New("discount engine: coupon repository is required")
	}
	if deps.UoW == nil {
		return nil, errors.New("discount engine: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DiscountEngine{
		coupons: deps.Coupons,
		uow:     deps.UoW,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Calculate returns the discount the coupon yields on amount: 0 for a nil,
// inactive, out-of-window coupon, an amount below the coupon minimum, or a
// user who already exhausted the per-user cap (userUsages is that user's
// prior redemption count); percentage values round half-up; the result never
// exceeds amount.
func (e *DiscountEngine) Calculate(amount int64, coupon *domain.Coupon, userUsages int) int64 {
	if coupon == nil || amount <= 0 {
		return 0
	}
	if !coupon.ValidAt(e.clock()) {
		return 0
	}
	if coupon.MaxUsesPerUser != nil && userUsages >= *coupon.MaxUsesPerUser {
		return 0
	}
	if coupon.MinOrderAmount > 0 && amount < coupon.MinOrderAmount {
		return 0
	}

	var discount int64
	switch coupon.Type {
	case domain.CouponTypePercentage:
		discount = int64(math.Floor(float64(amount)*float64(coupon.Value)/100 + 0.5))
	case domain.CouponTypeFixed:
		discount = coupon.Value
	default:
		return 0
	}

	if discount < 0 {
		return 0
	}
	if discount > amount {
		return amount
	}
	return discount
}

// ApplyCoupon validates the code against the cart's subtotal inside one
// transaction. The row lock taken by FindByCodeForUpdate is held for the
// duration of the surrounding transaction: when called inside an outer
// RunInTx, the lock survives until that outer transaction commits.
func (e *DiscountEngine) ApplyCoupon(ctx context.Context, code string, cart domain.Cart, userID string) (CouponApplication, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CouponApplication{Accepted: false, Message: msgCouponInvalid}, nil
	}

	var application CouponApplication
	err := e.uow.RunInTx(ctx, func(txCtx context.Context) error {
		now := e.clock()

		coupon, err := e.coupons.FindByCodeForUpdate(txCtx, code, now)
		if err != nil {
			if repositories.IsNotFound(err) {
				application = CouponApplication{Accepted: false, Message: msgCouponInvalid}
				return nil
			}
			return err
		}
		if !coupon.ValidAt(now) {
			application = CouponApplication{Accepted: false, Message: msgCouponInvalid}
			return nil
		}

		if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
			application = CouponApplication{Accepted: false, Message: msgCouponLimitReached}
			return nil
		}

		var used int
		if coupon.MaxUsesPerUser != nil && strings.TrimSpace(userID) != "" {
			used, err = e.coupons.CountRedemptionsByUser(txCtx, coupon.ID, userID)
			if err != nil {
				return err
			}
			if used >= *coupon.MaxUsesPerUser {
				application = CouponApplication{Accepted: false, Message: msgCouponUserLimit}
				return nil
			}
		}

		if coupon.MinOrderAmount > 0 && cart.Subtotal < coupon.MinOrderAmount {
			application = CouponApplication{
				Accepted: false,
				Message:  fmt.Sprintf("Minimum order amount of %d required", coupon.MinOrderAmount),
			}
			return nil
		}

		discount := e.Calculate(cart.Subtotal, &coupon, used)
		application = CouponApplication{
			Accepted:       true,
			Coupon:         &coupon,
			DiscountAmount: discount,
		}
		return nil
	})
	if err != nil {
		return CouponApplication{}, fmt.Errorf("discount engine: apply coupon: %w", err)
	}

	if !application.Accepted {
		e.logger(ctx, "coupon.rejected", map[string]any{
			"code":    code,
			"cartId":  cart.ID,
			"message": application.Message,
		})
	}
	return application, nil
}
