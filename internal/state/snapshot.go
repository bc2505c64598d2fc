package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"main/internal/schema"
)

// Snapshot captures book positions at a point in time. Written at shutdown
// for operational inspection.
type Snapshot struct {
	Timestamp int64           `json:"timestamp"`
	Positions []PositionEntry `json:"positions"`
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	SymbolID      uint32          `json:"symbolId"`
	Qty           schema.Quantity `json:"qty"`
	AvgEntryPrice schema.Price    `json:"avgEntryPrice"`
}

// Snapshot builds a snapshot from the current book.
func (b *Book) Snapshot() Snapshot {
	entries := make([]PositionEntry, 0, len(b.positions))
	for symbolID, pos := range b.positions {
		entries = append(entries, PositionEntry{
			SymbolID:      uint32(symbolID),
			Qty:           pos.Qty,
			AvgEntryPrice: pos.AvgEntryPrice,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SymbolID < entries[j].SymbolID
	})
	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		Positions: entries,
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks if two snapshots hold the same positions.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[uint32]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.SymbolID] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.SymbolID]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %d", entry.SymbolID)
		}
		if want.Qty != entry.Qty || want.AvgEntryPrice != entry.AvgEntryPrice {
			return fmt.Errorf("snapshot mismatch: symbol=%d expected=%+v actual=%+v", entry.SymbolID, want, entry)
		}
	}
	return nil
}
