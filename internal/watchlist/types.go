package watchlist

import (
	"time"
)

// SnapshotVersion is the on-disk format written by Save.
const SnapshotVersion = 1

// TrackedSymbol is one watchlist entry.
type TrackedSymbol struct {
	Symbol      string    `json:"symbol"`
	DisplayName string    `json:"display_name"`
	AddedAt     time.Time `json:"added_at"`
}

// Snapshot is the full ordered watchlist, the unit of persistence.
type Snapshot struct {
	Version int             `json:"version"`
	Symbols []TrackedSymbol `json:"symbols"`
}
