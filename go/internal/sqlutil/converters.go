package sqlutil

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Helper functions for converting between Go types and pgtype values

// ToNumeric converts a decimal to pgtype.Numeric
func ToNumeric(val decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: val.Coefficient(), Exp: val.Exponent(), Valid: true}
}

// FromNumeric converts pgtype.Numeric to a decimal
func FromNumeric(val pgtype.Numeric) (decimal.Decimal, error) {
	if !val.Valid {
		return decimal.Zero, nil
	}
	if val.NaN || val.InfinityModifier != pgtype.Finite {
		return decimal.Zero, fmt.Errorf("numeric value is not finite")
	}
	return decimal.NewFromBigInt(val.Int, val.Exp), nil
}

// ToFloat8 converts a Go float pointer to pgtype.Float8
func ToFloat8(val *float64) pgtype.Float8 {
	if val == nil {
		return pgtype.Float8{Valid: false}
	}
	return pgtype.Float8{Float64: *val, Valid: true}
}

// FromFloat8 converts pgtype.Float8 to a Go float with default
func FromFloat8(val pgtype.Float8, defaultVal float64) float64 {
	if !val.Valid {
		return defaultVal
	}
	return val.Float64
}
