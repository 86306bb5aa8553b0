package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domain "github.com/cartforge/commerce/internal/domain"
	"github.com/cartforge/commerce/internal/repositories"
)

// VariantRepository implements repositories.VariantRepository.
type VariantRepository struct {
	db *sql.DB
}

// NewVariantRepository wraps the pool.
func NewVariantRepository(db *sql.DB) *VariantRepository {
	return &VariantRepository{db: db}
}

const variantColumns = `id, product_id, sku, name, base_price, sale_price,
	stock, in_stock, image_url, updated_at`

func scanVariant(row *sql.Row) (domain.ProductVariant, error) {
	var variant domain.ProductVariant
	var salePrice sql.NullInt64
	err := row.Scan(
		&variant.ID, &variant.ProductID, &variant.SKU, &variant.Name,
		&variant.BasePrice, &salePrice, &variant.Stock, &variant.InStock,
		&variant.ImageURL, &variant.UpdatedAt,
	)
	if err != nil {
		return domain.ProductVariant{}, err
	}
	if salePrice.Valid {
		price := salePrice.Int64
		variant.SalePrice = &price
	}
	return variant, nil
}

// FindByID loads a variant.
func (r *VariantRepository) FindByID(ctx context.Context, variantID string) (domain.ProductVariant, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+variantColumns+`
		FROM product_variants
		WHERE id = $1
	`, variantID)
	variant, err := scanVariant(row)
	if err != nil {
		return domain.ProductVariant{}, mapError("variant find", err)
	}
	return variant, nil
}

// FirstByProduct resolves the default variant for simple products.
func (r *VariantRepository) FirstByProduct(ctx context.Context, productID string) (domain.ProductVariant, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+variantColumns+`
		FROM product_variants
		WHERE product_id = $1
		ORDER BY id
		LIMIT 1
	`, productID)
	variant, err := scanVariant(row)
	if err != nil {
		return domain.ProductVariant{}, mapError("variant first by product", err)
	}
	return variant, nil
}

// DecrementStock performs the atomic decrement-if-sufficient. The WHERE
// clause is the whole no-oversell guarantee: when remaining stock is below
// the quantity no row matches and the caller gets a conflict.
func (r *VariantRepository) DecrementStock(ctx context.Context, variantID string, quantity int, now time.Time) (domain.ProductVariant, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `
		UPDATE product_variants
		SET stock = stock - $2, in_stock = (stock - $2) > 0, updated_at = $3
		WHERE id = $1 AND stock >= $2
		RETURNING `+variantColumns+`
	`, variantID, quantity, now)
	variant, err := scanVariant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.ProductVariant{}, repositories.NewError(
				"variant decrement stock", repositories.KindConflict,
				fmt.Errorf("insufficient stock for variant %s", variantID))
		}
		return domain.ProductVariant{}, mapError("variant decrement stock", err)
	}
	return variant, nil
}

// IncrementStock returns stock released by the reservation sweep.
func (r *VariantRepository) IncrementStock(ctx context.Context, variantID string, quantity int, now time.Time) (domain.ProductVariant, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `
		UPDATE product_variants
		SET stock = stock + $2, in_stock = TRUE, updated_at = $3
		WHERE id = $1
		RETURNING `+variantColumns+`
	`, variantID, quantity, now)
	variant, err := scanVariant(row)
	if err != nil {
		return domain.ProductVariant{}, mapError("variant increment stock", err)
	}
	return variant, nil
}
