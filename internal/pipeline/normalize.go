package pipeline

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"solana-swap-watch/internal/domain"
)

// Normalize converts a raw on-chain integer amount into token units:
// raw / 10^decimals, computed exactly.
func Normalize(raw string, decimals int) (decimal.Decimal, error) {
	if decimals < 0 || decimals > domain.MaxDecimals {
		return decimal.Zero, fmt.Errorf("%w: decimals %d out of range [0, %d]", domain.ErrMalformedRecord, decimals, domain.MaxDecimals)
	}
	n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: amount %q is not an integer", domain.ErrMalformedRecord, raw)
	}
	if n.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative amount %s", domain.ErrMalformedRecord, raw)
	}
	return decimal.NewFromBigInt(n, -int32(decimals)), nil
}
