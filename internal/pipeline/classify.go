package pipeline

import (
	"fmt"

	"solana-swap-watch/internal/domain"
)

// Classified is a swap that touches the target token.
// In is the target leg; its amount is the one that counts.
type Classified struct {
	In  domain.Leg
	Out domain.Leg
}

// Classifier decides whether a raw activity is a qualifying swap.
type Classifier struct {
	Target string

	// IncludeDirectSwaps also accepts single-pool swaps, not only
	// aggregator-routed ones.
	IncludeDirectSwaps bool
}

// Classify returns (nil, nil) when the activity is not a swap involving
// the target, and an error wrapping domain.ErrMalformedRecord when the
// record lacks fields needed to decide.
func (c Classifier) Classify(raw domain.RawActivity) (*Classified, error) {
	if !c.isSwap(raw.ActivityType) {
		return nil, nil
	}
	if raw.TxID == "" {
		return nil, fmt.Errorf("%w: empty transaction id", domain.ErrMalformedRecord)
	}
	r := raw.Routers
	if r == nil {
		return nil, fmt.Errorf("%w: tx %s has no routers", domain.ErrMalformedRecord, raw.TxID)
	}

	switch c.Target {
	case r.Token1:
		in, err := leg(raw.TxID, r.Token1, r.Amount1, r.Token1Decimals)
		if err != nil {
			return nil, err
		}
		return &Classified{In: in, Out: domain.Leg{Token: r.Token2, RawAmount: r.Amount2, Decimals: deref(r.Token2Decimals)}}, nil
	case r.Token2:
		in, err := leg(raw.TxID, r.Token2, r.Amount2, r.Token2Decimals)
		if err != nil {
			return nil, err
		}
		return &Classified{In: in, Out: domain.Leg{Token: r.Token1, RawAmount: r.Amount1, Decimals: deref(r.Token1Decimals)}}, nil
	}
	return nil, nil
}

func (c Classifier) isSwap(kind string) bool {
	if kind == domain.ActivityAggTokenSwap {
		return true
	}
	return c.IncludeDirectSwaps && kind == domain.ActivityTokenSwap
}

func leg(txID, token, amount string, decimals *int) (domain.Leg, error) {
	if amount == "" {
		return domain.Leg{}, fmt.Errorf("%w: tx %s missing amount for %s", domain.ErrMalformedRecord, txID, token)
	}
	if decimals == nil {
		return domain.Leg{}, fmt.Errorf("%w: tx %s missing decimals for %s", domain.ErrMalformedRecord, txID, token)
	}
	return domain.Leg{Token: token, RawAmount: amount, Decimals: *decimals}, nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
