package domain

// CollectedTransaction is a transaction detail gathered by the signature collector.
type CollectedTransaction struct {
	Signature   string   `json:"signature"`
	Address     string   `json:"address"` // address whose history was walked
	Slot        int64    `json:"slot"`
	BlockTime   int64    `json:"block_time"` // Unix timestamp (seconds), 0 if unknown
	Failed      bool     `json:"failed"`
	AccountKeys []string `json:"account_keys"`
	LogMessages []string `json:"log_messages"`
}
