package postgres

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Numeric columns are selected as ::text and written as strings so that no
// precision is lost between PostgreSQL NUMERIC and decimal.Decimal.

type numericText struct {
	dst  *decimal.Decimal
	text string
}

// numerics parses every collected text value into its destination.
func numerics(fields ...*numericText) error {
	for _, f := range fields {
		d, err := decimal.NewFromString(f.text)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", f.text, err)
		}
		*f.dst = d
	}
	return nil
}

func numeric(dst *decimal.Decimal) *numericText {
	return &numericText{dst: dst}
}

func optionalUint64(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	u := uint64(*v)
	return &u
}

func optionalInt64(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	i := int64(*v)
	return &i
}
