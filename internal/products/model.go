package products

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("product not found")
	ErrValidation     = errors.New("invalid product")
	ErrMalformedEvent = errors.New("malformed product change event")
)

type Product struct {
	ID          int64           `json:"id" example:"1"`
	Name        string          `json:"name" example:"Widget"`
	Description string          `json:"description" example:"Steel widget"`
	Price       decimal.Decimal `json:"price" swaggertype:"string" example:"9.99"`
	Stock       int             `json:"stock" example:"10"`
	Category    string          `json:"category" example:"tools"`
	CreatedAt   time.Time       `json:"createdAt" example:"2026-02-24T12:00:00Z"`
	UpdatedAt   time.Time       `json:"updatedAt" example:"2026-02-24T12:00:00Z"`
}

// ProductInput carries every mutable field of a product. Updates overwrite
// all of them, so it is used for both create and update.
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Category    string
}

// Normalize trims surrounding whitespace from the text fields.
func (in ProductInput) Normalize() ProductInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	return in
}

func (in ProductInput) Validate() error {
	switch {
	case in.Name == "":
		return fmt.Errorf("%w: name is required", ErrValidation)
	case in.Category == "":
		return fmt.Errorf("%w: category is required", ErrValidation)
	case in.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrValidation)
	case in.Stock < 0:
		return fmt.Errorf("%w: stock must not be negative", ErrValidation)
	}
	return nil
}
