package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/oklog/ulid/v2"

	domain "github.com/cartforge/commerce/internal/domain"
)

// AddressRepository implements repositories.AddressRepository.
type AddressRepository struct {
	db *sql.DB
}

// NewAddressRepository wraps the pool.
func NewAddressRepository(db *sql.DB) *AddressRepository {
	return &AddressRepository{db: db}
}

// FindByID loads a stored address.
func (r *AddressRepository) FindByID(ctx context.Context, addressID string) (domain.Address, error) {
	var addr domain.Address
	err := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, user_id, recipient, line1, line2, city, state_code,
		       postal_code, country_code, phone, created_at
		FROM addresses
		WHERE id = $1
	`, addressID).Scan(
		&addr.ID, &addr.UserID, &addr.Recipient, &addr.Line1, &addr.Line2,
		&addr.City, &addr.StateCode, &addr.PostalCode, &addr.CountryCode,
		&addr.Phone, &addr.CreatedAt,
	)
	if err != nil {
		return domain.Address{}, mapError("address find", err)
	}
	return addr, nil
}

// Insert stores an inline address, assigning an id when none is set.
func (r *AddressRepository) Insert(ctx context.Context, address domain.Address) (domain.Address, error) {
	if strings.TrimSpace(address.ID) == "" {
		address.ID = "adr_" + ulid.Make().String()
	}
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO addresses (id, user_id, recipient, line1, line2, city,
			state_code, postal_code, country_code, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, address.ID, address.UserID, address.Recipient, address.Line1, address.Line2,
		address.City, address.StateCode, address.PostalCode, address.CountryCode,
		address.Phone, address.CreatedAt)
	if err != nil {
		return domain.Address{}, mapError("address insert", err)
	}
	return address, nil
}
