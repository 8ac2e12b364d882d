// Package notify delivers emitted trades to people and downstream systems.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"solana-swap-watch/internal/domain"
)

// alertNamespace scopes alert ids so they never collide with other
// name-based UUIDs.
var alertNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("solana-swap-watch/alert"))

// NewAlert wraps a trade in an alert record. The id is derived from
// (target, tx_id) so every notifier reports the same id for one trade.
func NewAlert(t domain.Trade, detectedAt time.Time) domain.Alert {
	return domain.Alert{
		AlertID:    uuid.NewSHA1(alertNamespace, []byte(t.TokenIn+"/"+t.TxID)).String(),
		Target:     t.TokenIn,
		DetectedAt: detectedAt.UTC(),
		Trade:      t,
	}
}

// FormatMessage renders a trade as a short multi-line alert.
func FormatMessage(t domain.Trade) string {
	var b strings.Builder
	b.WriteString("Large swap detected\n")
	fmt.Fprintf(&b, "TX: %s\n", t.TxID)
	fmt.Fprintf(&b, "Amount: %s tokens\n", groupThousands(t.Amount.Round(0).String()))
	fmt.Fprintf(&b, "Swap: %s -> %s\n", t.TokenIn, t.TokenOut)
	if t.FromAddress != "" {
		fmt.Fprintf(&b, "Address: %s\n", t.FromAddress)
	}
	fmt.Fprintf(&b, "Time: %s\n", t.BlockTime.UTC().Format(time.RFC3339))
	if t.Platform != "" {
		fmt.Fprintf(&b, "Platform: %s\n", t.Platform)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// groupThousands inserts commas into an integer string: 4500000 -> 4,500,000.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}
