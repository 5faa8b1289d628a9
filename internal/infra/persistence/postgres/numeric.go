package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromDecimal converts d into a pgtype.Numeric without going through float64.
func numericFromDecimal(d decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	text := d.String()
	if err := out.Scan(text); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", text, err)
	}
	return out, nil
}
