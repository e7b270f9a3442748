package responder

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ErrMalformedNumber is returned by ToBigInt.
var ErrMalformedNumber = errors.New("malformed integer")

// TimestampLayout is the UTC yyyyMMddHHmmss form of time parameters.
const TimestampLayout = "20060102150405"

// ToBigInt parses a decimal integer, or a hexadecimal one when prefixed with
// 0x or 0X. Surrounding whitespace is ignored.
func ToBigInt(s string) (*big.Int, error) {
	t := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(t, "0x") || strings.HasPrefix(t, "0X") {
		t = t[2:]
		base = 16
	}
	n, ok := new(big.Int).SetString(t, base)
	if t == "" || !ok {
		return nil, fmt.Errorf("%w '%s'", ErrMalformedNumber, strings.TrimSpace(s))
	}
	return n, nil
}

func parseTimestamp(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return nil, badRequest("invalid %s '%s'", name, value)
	}
	return &t, nil
}
