package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MinorUnits is an amount in the smallest currency unit (cents, pence).
//
// Backends are inconsistent about amount encoding, so decoding accepts:
// integers as minor units already; fractional numbers and numeric strings as
// major units, scaled by 100 and rounded half away from zero. Null and
// non-numeric strings decode to zero.
type MinorUnits int64

// Int64 returns the amount as a plain integer.
func (m MinorUnits) Int64() int64 {
	return int64(m)
}

// Decimal returns the amount in major units.
func (m MinorUnits) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(hundred)
}

func (m MinorUnits) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(m), 10)), nil
}

func (m *MinorUnits) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}

	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode amount string: %w", err)
		}
		parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			*m = 0
			return nil
		}
		*m = scaleMajor(parsed)
		return nil
	}

	token := string(data)
	if !strings.ContainsAny(token, ".eE") {
		value, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return fmt.Errorf("decode amount %q: %w", token, err)
		}
		*m = MinorUnits(value)
		return nil
	}

	parsed, err := decimal.NewFromString(token)
	if err != nil {
		return fmt.Errorf("decode amount %q: %w", token, err)
	}
	*m = scaleMajor(parsed)
	return nil
}

func scaleMajor(value decimal.Decimal) MinorUnits {
	return MinorUnits(value.Mul(hundred).Round(0).IntPart())
}
