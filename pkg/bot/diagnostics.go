package bot

import (
	"sync/atomic"
	"time"
)

// Diagnostics is a point-in-time copy of the dispatch counters.
type Diagnostics struct {
	ReceivedCount  uint64    `json:"received_count"`
	ProcessedCount uint64    `json:"processed_count"`
	SuccessCount   uint64    `json:"success_count"`
	StartedAt      time.Time `json:"started_at"`
}

type counters struct {
	received  atomic.Uint64
	processed atomic.Uint64
	success   atomic.Uint64
	startedAt time.Time
}

// Diagnostics returns the counters since construction.
func (b *Bot) Diagnostics() Diagnostics {
	return Diagnostics{
		ReceivedCount:  b.diag.received.Load(),
		ProcessedCount: b.diag.processed.Load(),
		SuccessCount:   b.diag.success.Load(),
		StartedAt:      b.diag.startedAt,
	}
}
