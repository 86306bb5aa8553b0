package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/repositories"
)

// Shared in-memory fakes for the service tests. They implement only what the
// services exercise and fail with categorised repository errors like the real
// Postgres implementations.

func notFoundErr(op string) error {
	return repositories.NewError(op, repositories.KindNotFound, nil)
}

func conflictErr(op string) error {
	return repositories.NewError(op, repositories.KindConflict, nil)
}

type fakeUnitOfWork struct {
	calls int
	fail  error
}

func (u *fakeUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	u.calls++
	if u.fail != nil {
		return u.fail
	}
	return fn(ctx)
}

type fakeCartRepo struct {
	carts        map[string]domain.Cart
	statusWrites []domain.CartStatus
	cleared      []string
	totalsWrites int
}

func newFakeCartRepo(carts ...domain.Cart) *fakeCartRepo {
	r := &fakeCartRepo{carts: make(map[string]domain.Cart)}
	for _, c := range carts {
		r.carts[c.ID] = c
	}
	return r
}

func (r *fakeCartRepo) FindByID(_ context.Context, cartID string) (domain.Cart, error) {
	cart, ok := r.carts[cartID]
	if !ok {
		return domain.Cart{}, notFoundErr("carts.find")
	}
	return cart, nil
}

func (r *fakeCartRepo) UpdateStatus(_ context.Context, cartID string, status domain.CartStatus, updatedAt time.Time) error {
	cart, ok := r.carts[cartID]
	if !ok {
		return notFoundErr("carts.update_status")
	}
	cart.Status = status
	cart.UpdatedAt = updatedAt
	r.carts[cartID] = cart
	r.statusWrites = append(r.statusWrites, status)
	return nil
}

func (r *fakeCartRepo) UpdateTotals(_ context.Context, cart domain.Cart) error {
	stored, ok := r.carts[cart.ID]
	if !ok {
		return notFoundErr("carts.update_totals")
	}
	stored.Subtotal = cart.Subtotal
	stored.Discount = cart.Discount
	stored.TaxAmount = cart.TaxAmount
	stored.Total = cart.Total
	r.carts[cart.ID] = stored
	r.totalsWrites++
	return nil
}

func (r *fakeCartRepo) Clear(_ context.Context, cartID string, updatedAt time.Time) error {
	cart, ok := r.carts[cartID]
	if !ok {
		return notFoundErr("carts.clear")
	}
	cart.Items = nil
	cart.CouponCode = nil
	cart.UpdatedAt = updatedAt
	r.carts[cartID] = cart
	r.cleared = append(r.cleared, cartID)
	return nil
}

type redemptionKey struct {
	couponID string
	userID   string
}

type fakeCouponRepo struct {
	coupons     map[string]domain.Coupon
	redemptions map[redemptionKey]int
	increments  int
	lockCalls   int
}

func newFakeCouponRepo(coupons ...domain.Coupon) *fakeCouponRepo {
	r := &fakeCouponRepo{
		coupons:     make(map[string]domain.Coupon),
		redemptions: make(map[redemptionKey]int),
	}
	for _, c := range coupons {
		r.coupons[c.Code] = c
	}
	return r
}

func (r *fakeCouponRepo) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	coupon, ok := r.coupons[code]
	if !ok {
		return domain.Coupon{}, notFoundErr("coupons.find")
	}
	return coupon, nil
}

func (r *fakeCouponRepo) FindByCodeForUpdate(_ context.Context, code string, now time.Time) (domain.Coupon, error) {
	r.lockCalls++
	coupon, ok := r.coupons[code]
	if !ok || !coupon.ValidAt(now) {
		return domain.Coupon{}, notFoundErr("coupons.find_for_update")
	}
	return coupon, nil
}

func (r *fakeCouponRepo) CountRedemptionsByUser(_ context.Context, couponID, userID string) (int, error) {
	return r.redemptions[redemptionKey{couponID, userID}], nil
}

func (r *fakeCouponRepo) IncrementUsage(_ context.Context, couponID, userID, _ string, _ time.Time) error {
	for code, coupon := range r.coupons {
		if coupon.ID == couponID {
			coupon.UsedCount++
			r.coupons[code] = coupon
		}
	}
	r.redemptions[redemptionKey{couponID, userID}]++
	r.increments++
	return nil
}

type fakeTaxRateRepo struct {
	rates map[string]domain.TaxRate
}

func newFakeTaxRateRepo(rates ...domain.TaxRate) *fakeTaxRateRepo {
	r := &fakeTaxRateRepo{rates: make(map[string]domain.TaxRate)}
	for _, rate := range rates {
		r.rates[rate.CountryCode+"/"+rate.StateCode] = rate
	}
	return r
}

func (r *fakeTaxRateRepo) FindRate(_ context.Context, countryCode, stateCode string) (domain.TaxRate, error) {
	if rate, ok := r.rates[countryCode+"/"+stateCode]; ok {
		return rate, nil
	}
	if rate, ok := r.rates[countryCode+"/"]; ok {
		return rate, nil
	}
	return domain.TaxRate{}, notFoundErr("tax_rates.find")
}

type fakeSessionRepo struct {
	sessions map[string]domain.CheckoutSession
	inserts  int
	updates  int
	expired  int
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]domain.CheckoutSession)}
}

func (r *fakeSessionRepo) Insert(_ context.Context, session domain.CheckoutSession) error {
	r.sessions[session.ID] = session
	r.inserts++
	return nil
}

func (r *fakeSessionRepo) Update(_ context.Context, session domain.CheckoutSession) error {
	stored, ok := r.sessions[session.ID]
	if !ok {
		return notFoundErr("checkout_sessions.update")
	}
	// The snapshot column is write-once; mirror the real repository.
	snapshot := stored.Snapshot
	stored = session
	stored.Snapshot = snapshot
	r.sessions[session.ID] = stored
	r.updates++
	return nil
}

func (r *fakeSessionRepo) FindByID(_ context.Context, sessionID string) (domain.CheckoutSession, error) {
	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, notFoundErr("checkout_sessions.find")
	}
	return session, nil
}

func (r *fakeSessionRepo) FindOpenByCart(_ context.Context, cartID string, now time.Time) (domain.CheckoutSession, error) {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var newest *domain.CheckoutSession
	for _, id := range ids {
		session := r.sessions[id]
		if session.CartID != cartID || session.Completed() || session.Expired(now) {
			continue
		}
		if newest == nil || session.CreatedAt.After(newest.CreatedAt) {
			s := session
			newest = &s
		}
	}
	if newest == nil {
		return domain.CheckoutSession{}, notFoundErr("checkout_sessions.find_open")
	}
	return *newest, nil
}

func (r *fakeSessionRepo) ExpireBefore(_ context.Context, cutoff time.Time) (int, error) {
	count := 0
	for id, session := range r.sessions {
		if !session.Completed() && session.Expired(cutoff) {
			delete(r.sessions, id)
			count++
		}
	}
	r.expired += count
	return count, nil
}

type fakeOrderRepo struct {
	orders   map[string]domain.Order
	seq      int64
	inserts  []domain.Order
	statuses []struct {
		OrderID       string
		Status        domain.OrderStatus
		PaymentStatus domain.PaymentStatus
	}
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[string]domain.Order)}
}

func (r *fakeOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.orders[order.ID] = order
	r.inserts = append(r.inserts, order)
	return nil
}

func (r *fakeOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("orders.find")
	}
	return order, nil
}

func (r *fakeOrderRepo) UpdateStatus(_ context.Context, orderID string, status domain.OrderStatus, paymentStatus domain.PaymentStatus, updatedAt time.Time) error {
	order, ok := r.orders[orderID]
	if !ok {
		return notFoundErr("orders.update_status")
	}
	order.Status = status
	order.PaymentStatus = paymentStatus
	order.UpdatedAt = updatedAt
	r.orders[orderID] = order
	r.statuses = append(r.statuses, struct {
		OrderID       string
		Status        domain.OrderStatus
		PaymentStatus domain.PaymentStatus
	}{orderID, status, paymentStatus})
	return nil
}

func (r *fakeOrderRepo) NextOrderNumber(_ context.Context) (int64, error) {
	r.seq++
	return r.seq, nil
}

type fakeVariantRepo struct {
	variants   map[string]domain.ProductVariant
	decrements []string
}

func newFakeVariantRepo(variants ...domain.ProductVariant) *fakeVariantRepo {
	r := &fakeVariantRepo{variants: make(map[string]domain.ProductVariant)}
	for _, v := range variants {
		r.variants[v.ID] = v
	}
	return r
}

func (r *fakeVariantRepo) FindByID(_ context.Context, variantID string) (domain.ProductVariant, error) {
	variant, ok := r.variants[variantID]
	if !ok {
		return domain.ProductVariant{}, notFoundErr("variants.find")
	}
	return variant, nil
}

func (r *fakeVariantRepo) FirstByProduct(_ context.Context, productID string) (domain.ProductVariant, error) {
	ids := make([]string, 0, len(r.variants))
	for id := range r.variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if r.variants[id].ProductID == productID {
			return r.variants[id], nil
		}
	}
	return domain.ProductVariant{}, notFoundErr("variants.first_by_product")
}

func (r *fakeVariantRepo) DecrementStock(_ context.Context, variantID string, quantity int, now time.Time) (domain.ProductVariant, error) {
	variant, ok := r.variants[variantID]
	if !ok {
		return domain.ProductVariant{}, notFoundErr("variants.decrement")
	}
	if variant.Stock < quantity {
		return domain.ProductVariant{}, conflictErr("variants.decrement")
	}
	variant.Stock -= quantity
	variant.InStock = variant.Stock > 0
	variant.UpdatedAt = now
	r.variants[variantID] = variant
	r.decrements = append(r.decrements, fmt.Sprintf("%s:%d", variantID, quantity))
	return variant, nil
}

func (r *fakeVariantRepo) IncrementStock(_ context.Context, variantID string, quantity int, now time.Time) (domain.ProductVariant, error) {
	variant, ok := r.variants[variantID]
	if !ok {
		return domain.ProductVariant{}, notFoundErr("variants.increment")
	}
	variant.Stock += quantity
	variant.InStock = variant.Stock > 0
	variant.UpdatedAt = now
	r.variants[variantID] = variant
	return variant, nil
}

type fakeReservationRepo struct {
	reservations map[string]domain.InventoryReservation
}

func newFakeReservationRepo() *fakeReservationRepo {
	return &fakeReservationRepo{reservations: make(map[string]domain.InventoryReservation)}
}

func (r *fakeReservationRepo) Insert(_ context.Context, reservation domain.InventoryReservation) error {
	r.reservations[reservation.ID] = reservation
	return nil
}

func (r *fakeReservationRepo) MarkCommitted(_ context.Context, orderID string, now time.Time) error {
	for id, reservation := range r.reservations {
		if reservation.OrderID == orderID && reservation.Status == domain.ReservationReserved {
			reservation.Status = domain.ReservationCommitted
			reservation.UpdatedAt = now
			r.reservations[id] = reservation
		}
	}
	return nil
}

func (r *fakeReservationRepo) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]domain.InventoryReservation, error) {
	ids := make([]string, 0, len(r.reservations))
	for id := range r.reservations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []domain.InventoryReservation
	for _, id := range ids {
		reservation := r.reservations[id]
		if reservation.Status == domain.ReservationReserved && !reservation.ExpiresAt.After(cutoff) {
			out = append(out, reservation)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeReservationRepo) MarkReleased(_ context.Context, reservationID string, now time.Time) error {
	reservation, ok := r.reservations[reservationID]
	if !ok || reservation.Status != domain.ReservationReserved {
		return nil
	}
	reservation.Status = domain.ReservationReleased
	reservation.UpdatedAt = now
	r.reservations[reservationID] = reservation
	return nil
}

type fakeAddressRepo struct {
	addresses map[string]domain.Address
	inserts   int
}

func newFakeAddressRepo(addresses ...domain.Address) *fakeAddressRepo {
	r := &fakeAddressRepo{addresses: make(map[string]domain.Address)}
	for _, a := range addresses {
		r.addresses[a.ID] = a
	}
	return r
}

func (r *fakeAddressRepo) FindByID(_ context.Context, addressID string) (domain.Address, error) {
	address, ok := r.addresses[addressID]
	if !ok {
		return domain.Address{}, notFoundErr("addresses.find")
	}
	return address, nil
}

func (r *fakeAddressRepo) Insert(_ context.Context, address domain.Address) (domain.Address, error) {
	if strings.TrimSpace(address.ID) == "" {
		address.ID = fmt.Sprintf("adr_%03d", r.inserts+1)
	}
	r.addresses[address.ID] = address
	r.inserts++
	return address, nil
}

type fakeIntentRepo struct {
	intents map[string]domain.PaymentIntent
}

func newFakeIntentRepo() *fakeIntentRepo {
	return &fakeIntentRepo{intents: make(map[string]domain.PaymentIntent)}
}

func (r *fakeIntentRepo) Insert(_ context.Context, intent domain.PaymentIntent) error {
	r.intents[intent.ID] = intent
	return nil
}

func (r *fakeIntentRepo) FindByID(_ context.Context, intentID string) (domain.PaymentIntent, error) {
	intent, ok := r.intents[intentID]
	if !ok {
		return domain.PaymentIntent{}, notFoundErr("payment_intents.find")
	}
	return intent, nil
}

func (r *fakeIntentRepo) UpdateStatus(_ context.Context, intentID string, status domain.PaymentIntentStatus, gatewayRef string, updatedAt time.Time) error {
	intent, ok := r.intents[intentID]
	if !ok {
		return notFoundErr("payment_intents.update_status")
	}
	intent.Status = status
	intent.GatewayRef = gatewayRef
	intent.UpdatedAt = updatedAt
	r.intents[intentID] = intent
	return nil
}

type fakePublisher struct {
	events []CommerceEvent
	fail   error
}

func (p *fakePublisher) Publish(_ context.Context, event CommerceEvent) error {
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, event)
	return nil
}

type fakeShippingProvider struct {
	methods     []ShippingMethod
	methodsErr  error
	quoteErr    error
	methodCalls int
	quoteCalls  int
}

func (p *fakeShippingProvider) AvailableMethods(_ context.Context, _ domain.Cart, _ domain.Address) ([]ShippingMethod, error) {
	p.methodCalls++
	if p.methodsErr != nil {
		return nil, p.methodsErr
	}
	return p.methods, nil
}

func (p *fakeShippingProvider) QuoteCost(_ context.Context, _ domain.Cart, _ domain.Address, methodCode string) (int64, error) {
	p.quoteCalls++
	if p.quoteErr != nil {
		return 0, p.quoteErr
	}
	for _, m := range p.methods {
		if m.Code == methodCode {
			return m.Cost, nil
		}
	}
	return 0, fmt.Errorf("unknown method %s", methodCode)
}

// fixedClock returns a deterministic clock for tests.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// sequenceIDs yields id-1, id-2, ... for deterministic entity IDs.
func sequenceIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%03d", n)
	}
}
