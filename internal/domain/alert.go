package domain

import "time"

// Alert is a delivered Trade as archived by alert stores and
// published to message buses.
type Alert struct {
	AlertID    string    // uuid
	Target     string    // monitored token
	DetectedAt time.Time // when the pipeline emitted the trade
	Trade      Trade
}
