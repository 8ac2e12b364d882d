package domain

import "errors"

// Error taxonomy shared by sources, pipeline and notifiers.
var (
	// ErrFetch marks a network or HTTP failure while reading from a provider.
	// The poll loop treats it as an empty batch.
	ErrFetch = errors.New("fetch failed")

	// ErrMalformedRecord marks a single provider record that does not match
	// the expected schema. The record is dropped.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrNotify marks a failed alert delivery.
	ErrNotify = errors.New("notify failed")

	// ErrAuth marks a credential or token failure. Fatal at startup.
	ErrAuth = errors.New("authentication failed")
)
