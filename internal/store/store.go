// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sandreim/tictactoe3/internal/tx"
)

// StorageKey is the fixed key the snapshot is persisted under, regardless of
// backend.
const StorageKey = "tictactoe:snapshot"

// Tally accumulates game results across sessions.
type Tally struct {
	XWins int `json:"xWins"`
	OWins int `json:"oWins"`
	Draws int `json:"draws"`
}

// Snapshot is the opaque persisted state: transaction history plus win/loss
// tallies. Restored verbatim on startup.
type Snapshot struct {
	Records []tx.Record `json:"records"`
	Tally   Tally       `json:"tally"`
	SavedAt time.Time   `json:"savedAt"`
}

// Store persists and restores the snapshot.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns the stored snapshot and whether one existed.
	Load(ctx context.Context) (Snapshot, bool, error)
	Close() error
}

// encode serializes a snapshot as JSON. Timestamps marshal as RFC 3339,
// which sorts lexicographically, so persisted records remain ordered as
// text.
func encode(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
