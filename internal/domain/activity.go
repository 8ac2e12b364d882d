package domain

// Activity kind tags as reported by the provider.
const (
	ActivityAggTokenSwap = "ACTIVITY_AGG_TOKEN_SWAP" // routed through an aggregator
	ActivityTokenSwap    = "ACTIVITY_TOKEN_SWAP"     // single-pool swap
)

// RawActivity is a provider record before classification.
// Fields are copied as received; nothing here is validated.
type RawActivity struct {
	ActivityType string
	TxID         string
	BlockTime    int64 // Unix timestamp (seconds)
	FromAddress  string
	Routers      *RouterLegs // nil when the provider omitted the router block
	Platform     []string
}

// RouterLegs describes the two legs of a swap.
// Amounts are raw on-chain integers kept as decimal strings so that
// values wider than 64 bits survive decoding.
type RouterLegs struct {
	Token1         string
	Token1Decimals *int
	Amount1        string
	Token2         string
	Token2Decimals *int
	Amount2        string
}

// MaxDecimals is the largest precision an SPL mint can declare (u8).
const MaxDecimals = 255

// Leg is one side of a swap after classification.
type Leg struct {
	Token     string
	RawAmount string
	Decimals  int
}
