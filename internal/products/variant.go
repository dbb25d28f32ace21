package products

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tidecrate/storefront/pkg/db/models"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

var variantPattern = regexp.MustCompile(`^\s*(\d+(?:[.,]\d+)?)\s*(kg|g)\s*$`)

var thousand = decimal.NewFromInt(1000)

// ParseVariant turns a weight label such as "500g", "1kg" or "1.5 kg" into kilograms.
func ParseVariant(label string) (decimal.Decimal, error) {
	m := variantPattern.FindStringSubmatch(strings.ToLower(label))
	if m == nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unrecognised variant %q", label))
	}
	amount, err := decimal.NewFromString(strings.Replace(m[1], ",", ".", 1))
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("unrecognised variant %q", label))
	}
	if m[2] == "g" {
		amount = amount.Div(thousand)
	}
	if !amount.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "variant weight must be positive")
	}
	return amount, nil
}

// NormalizeVariant renders the canonical label for a weight so that "1000g"
// and "1 kg" land on the same cart row.
func NormalizeVariant(label string) (string, error) {
	kg, err := ParseVariant(label)
	if err != nil {
		return "", err
	}
	if kg.LessThan(decimal.NewFromInt(1)) {
		return kg.Mul(thousand).String() + "g", nil
	}
	return kg.String() + "kg", nil
}

// UnitPrice prices one unit of variant for product, rounded to cents. The
// variant weight has to lie inside the product's weight range.
func UnitPrice(product models.Product, variant string) (decimal.Decimal, error) {
	kg, err := ParseVariant(variant)
	if err != nil {
		return decimal.Zero, err
	}
	if kg.LessThan(product.MinWeightKg) || kg.GreaterThan(product.MaxWeightKg) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("%s is outside the %s-%s kg range of %s", variant, product.MinWeightKg, product.MaxWeightKg, product.Name))
	}
	return product.PricePerKg.Mul(kg).Round(2), nil
}
