package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/gridsettle/clearing-service/internal/domain/ports"
)

// nullText creates a pgtype.Text with empty string handling
func nullText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// numericFromDecimal converts a decimal.Decimal to pgtype.Numeric
func numericFromDecimal(d decimal.Decimal) (pgtype.Numeric, error) {
	n := pgtype.Numeric{}
	if err := n.Scan(d.String()); err != nil {
		return n, fmt.Errorf("convert decimal %s: %w", d, err)
	}
	return n, nil
}

// decimalFromNumeric converts a pgtype.Numeric back to decimal.Decimal
func decimalFromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	v, err := n.Value()
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read numeric: %w", err)
	}
	s, ok := v.(string)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unexpected numeric driver type %T", v)
	}
	return decimal.NewFromString(s)
}

// executor picks the caller's transaction when one is given, falling back
// to the repository's pool.
func executor(db ports.DBTX, fallback ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return fallback
}
