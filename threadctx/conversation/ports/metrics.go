package convports

import "time"

// Metrics records per-turn and per-compaction measurements.
type Metrics interface {
	ObserveTurn(duration time.Duration, err error)
	ObserveCompaction(removed int, duration time.Duration, err error)
	ObservePrompt(tokens, messages int)
}
