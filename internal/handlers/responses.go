package handlers

import (
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
)

type snapshotItemResponse struct {
	ProductID string  `json:"product_id"`
	VariantID *string `json:"variant_id,omitempty"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice int64   `json:"unit_price"`
	LineTotal int64   `json:"line_total"`
}

type snapshotResponse struct {
	Items              []snapshotItemResponse `json:"items"`
	CouponCode         *string                `json:"coupon_code,omitempty"`
	Subtotal           int64                  `json:"subtotal"`
	Discount           int64                  `json:"discount"`
	Tax                int64                  `json:"tax"`
	Total              int64                  `json:"total"`
	TaxJurisdiction    string                 `json:"tax_jurisdiction,omitempty"`
	CalculationVersion string                 `json:"calculation_version"`
}

type sessionResponse struct {
	ID                string           `json:"id"`
	CartID            string           `json:"cart_id"`
	Step              string           `json:"step"`
	Snapshot          snapshotResponse `json:"snapshot"`
	ShippingAddressID string           `json:"shipping_address_id,omitempty"`
	BillingAddressID  string           `json:"billing_address_id,omitempty"`
	ShippingMethod    string           `json:"shipping_method,omitempty"`
	ShippingCost      int64            `json:"shipping_cost"`
	PaymentMethod     string           `json:"payment_method,omitempty"`
	Total             int64            `json:"total"`
	ExpiresAt         time.Time        `json:"expires_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

func toSessionResponse(s domain.CheckoutSession) sessionResponse {
	items := make([]snapshotItemResponse, 0, len(s.Snapshot.Items))
	for _, it := range s.Snapshot.Items {
		items = append(items, snapshotItemResponse{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Name,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return sessionResponse{
		ID:     s.ID,
		CartID: s.CartID,
		Step:   string(s.Step),
		Snapshot: snapshotResponse{
			Items:              items,
			CouponCode:         s.Snapshot.CouponCode,
			Subtotal:           s.Snapshot.Subtotal,
			Discount:           s.Snapshot.Discount,
			Tax:                s.Snapshot.Tax,
			Total:              s.Snapshot.Total,
			TaxJurisdiction:    s.Snapshot.TaxJurisdiction,
			CalculationVersion: s.Snapshot.CalculationVersion,
		},
		ShippingAddressID: s.ShippingAddressID,
		BillingAddressID:  s.BillingAddressID,
		ShippingMethod:    s.ShippingMethod,
		ShippingCost:      s.ShippingCost,
		PaymentMethod:     s.PaymentMethod,
		Total:             s.Total,
		ExpiresAt:         s.ExpiresAt,
		CompletedAt:       s.CompletedAt,
		CreatedAt:         s.CreatedAt,
	}
}

type orderItemResponse struct {
	ID        string  `json:"id"`
	ProductID string  `json:"product_id"`
	VariantID *string `json:"variant_id,omitempty"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice int64   `json:"unit_price"`
	Total     int64   `json:"total"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	OrderNumber   string              `json:"order_number"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"payment_status"`
	PaymentMethod string              `json:"payment_method"`
	Currency      string              `json:"currency"`
	CouponCode    *string             `json:"coupon_code,omitempty"`
	Subtotal      int64               `json:"subtotal"`
	Discount      int64               `json:"discount"`
	TaxAmount     int64               `json:"tax_amount"`
	ShippingCost  int64               `json:"shipping_cost"`
	Total         int64               `json:"total"`
	Items         []orderItemResponse `json:"items"`
	CreatedAt     time.Time           `json:"created_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Name,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Total:     it.Total,
		})
	}
	return orderResponse{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		PaymentMethod: o.PaymentMethod,
		Currency:      o.Currency,
		CouponCode:    o.CouponCode,
		Subtotal:      o.Subtotal,
		Discount:      o.Discount,
		TaxAmount:     o.TaxAmount,
		ShippingCost:  o.ShippingCost,
		Total:         o.Total,
		Items:         items,
		CreatedAt:     o.CreatedAt,
	}
}

type intentResponse struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Method     string    `json:"method"`
	GatewayRef string    `json:"gateway_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toIntentResponse(i domain.PaymentIntent) intentResponse {
	return intentResponse{
		ID:         i.ID,
		OrderID:    i.OrderID,
		Status:     string(i.Status),
		Amount:     i.Amount,
		Currency:   i.Currency,
		Method:     i.Method,
		GatewayRef: i.GatewayRef,
		CreatedAt:  i.CreatedAt,
	}
}
