package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a classified, normalized swap that involves the target token.
// TokenIn is always the target leg.
type Trade struct {
	TxID        string
	BlockTime   time.Time
	FromAddress string
	Amount      decimal.Decimal
	TokenIn     string
	TokenOut    string
	Platform    string
}

// JoinPlatforms renders the provider platform list as one label.
func JoinPlatforms(platforms []string) string {
	return strings.Join(platforms, ",")
}
