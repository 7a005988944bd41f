package crdb

import (
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Amounts are read as text so no precision is lost between DECIMAL and decimal.Decimal.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse decimal %q", s)
	}
	return d, nil
}
